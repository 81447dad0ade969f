package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	envFiles    = []string{".env", ".env.local"}
	configPaths = []string{".", "./config", "/etc/gostage", "$HOME/.gostage"}
)

func initConfig(path string) error {
	// Missing .env files are fine
	for _, envFile := range envFiles {
		_ = godotenv.Load(envFile)
	}

	if path != "" {
		viper.SetConfigFile(path)
		loadEnvFiles(filepath.Dir(path))
	} else {
		viper.SetConfigName("gostage")
		viper.SetConfigType("yaml")
		for _, configPath := range configPaths {
			viper.AddConfigPath(configPath)
			loadEnvFiles(configPath)
		}
	}

	viper.SetEnvPrefix("GOSTAGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func loadEnvFiles(dir string) {
	for _, envFile := range envFiles {
		_ = godotenv.Load(filepath.Join(dir, envFile))
	}
}
