package hsm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Exit codes understood from the HSM tools, following sysexits.h.
const (
	ExitUnavailable = 69 // EX_UNAVAILABLE: no drive available
	ExitTempFail    = 75 // EX_TEMPFAIL: retry the file later
)

// CommandBridge drives the HSM through external command line tools.
//
// The resolve command must print the placement as YAML (or JSON) with the
// keys tape, position, size and optionally on_disk. The stage command only
// reports through its exit code; stderr is kept as the failure message.
type CommandBridge struct {
	resolve []string
	stage   []string
	timeout time.Duration
}

func NewCommandBridge(resolveCommand, stageCommand string, timeout time.Duration) (*CommandBridge, error) {
	resolve, err := shlex.Split(resolveCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resolve command: %w", err)
	}
	if len(resolve) == 0 {
		return nil, fmt.Errorf("resolve command is required")
	}

	stage, err := shlex.Split(stageCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stage command: %w", err)
	}
	if len(stage) == 0 {
		return nil, fmt.Errorf("stage command is required")
	}

	return &CommandBridge{
		resolve: resolve,
		stage:   stage,
		timeout: timeout,
	}, nil
}

func (b *CommandBridge) Resolve(ctx context.Context, file string) (FileMetadata, error) {
	args := expand(b.resolve, map[string]string{
		"file": file,
	})

	stdout, stderr, code, err := b.run(ctx, args)
	if err != nil {
		return FileMetadata{}, NewError(ErrMetadata, "failed to run resolve command: %v", err)
	}
	if code != 0 {
		return FileMetadata{}, NewError(ErrMetadata, "resolve of '%s' exited with %d: %s", file, code, stderr)
	}

	meta := FileMetadata{}
	if err := yaml.Unmarshal(stdout, &meta); err != nil {
		return FileMetadata{}, NewError(ErrMetadata, "failed to parse resolve output for '%s': %v", file, err)
	}

	meta.File = file
	if !meta.OnDisk && meta.Tape == "" {
		return FileMetadata{}, NewError(ErrMetadata, "resolve output for '%s' does not name a tape", file)
	}
	if meta.Position < 0 {
		return FileMetadata{}, NewError(ErrMetadata, "resolve output for '%s' has negative position %d", file, meta.Position)
	}

	return meta, nil
}

func (b *CommandBridge) Stage(ctx context.Context, req StageRequest) error {
	args := expand(b.stage, map[string]string{
		"file":     req.File,
		"tape":     req.Tape,
		"position": strconv.FormatInt(req.Position, 10),
		"size":     strconv.FormatInt(req.Size, 10),
		"user":     req.User,
	})

	_, stderr, code, err := b.run(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(ErrTransientStage, "stage of '%s' timed out", req.File)
		}
		return NewError(ErrPermanent, "failed to run stage command: %v", err)
	}

	switch code {
	case 0:
		return nil
	case ExitUnavailable:
		return NewError(ErrResourceExhausted, "%s", stderr)
	case ExitTempFail:
		return NewError(ErrTransientStage, "%s", stderr)
	default:
		return NewError(ErrPermanent, "stage of '%s' exited with %d: %s", req.File, code, stderr)
	}
}

// run executes the command; a non-zero exit status is returned as code, not as error.
func (b *CommandBridge) run(ctx context.Context, args []string) ([]byte, string, int, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, "", -1, ctx.Err()
	}

	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return stdout.Bytes(), strings.TrimSpace(stderr.String()), exit.ExitCode(), nil
	}
	if err != nil {
		return nil, "", -1, err
	}

	return stdout.Bytes(), strings.TrimSpace(stderr.String()), 0, nil
}

func expand(template []string, values map[string]string) []string {
	args := make([]string, len(template))
	for i, arg := range template {
		for key, value := range values {
			arg = strings.ReplaceAll(arg, "{"+key+"}", value)
		}
		args[i] = arg
	}
	return args
}
