package log

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mwantia/fabric/pkg/container"
)

const tagName = "fabric"

// LoggerTagProcessor resolves fields tagged `fabric:"logger"` or
// `fabric:"logger:<name>"` to the registered LoggerService, named if requested.
type LoggerTagProcessor struct{}

func NewLoggerTagProcessor() *LoggerTagProcessor {
	return &LoggerTagProcessor{}
}

// GetPriority runs the processor ahead of the default inject processor.
func (ltp *LoggerTagProcessor) GetPriority() int {
	return 50
}

func (ltp *LoggerTagProcessor) CanProcess(value string) bool {
	return strings.EqualFold(value, "logger") || strings.HasPrefix(strings.ToLower(value), "logger:")
}

func (ltp *LoggerTagProcessor) Process(ctx context.Context, sc *container.ServiceContainer, field reflect.StructField, value string) (any, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("no LoggerService registered for field '%s'", field.Name)
	}

	base, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved %T for field '%s' is not a LoggerService", resolved, field.Name)
	}

	if _, name, found := strings.Cut(value, ":"); found && strings.TrimSpace(name) != "" {
		return base.Named(strings.TrimSpace(name)), nil
	}
	return base, nil
}

// Inject fills every tagged LoggerService field of the struct target points to.
// Fields with other tags or without a tag are left alone.
func Inject(ctx context.Context, sc *container.ServiceContainer, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("inject target must be a pointer to struct, got %T", target)
	}

	processor := NewLoggerTagProcessor()
	elem := v.Elem()
	for i := range elem.NumField() {
		field := elem.Type().Field(i)
		value, ok := field.Tag.Lookup(tagName)
		if !ok || !processor.CanProcess(value) {
			continue
		}
		if !elem.Field(i).CanSet() {
			return fmt.Errorf("field '%s' tagged %q cannot be set", field.Name, value)
		}

		logger, err := processor.Process(ctx, sc, field, value)
		if err != nil {
			return err
		}
		elem.Field(i).Set(reflect.ValueOf(logger))
	}

	return nil
}
