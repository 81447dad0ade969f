// Package hsm talks to the tape backed hierarchical storage system.
//
// The scheduler only needs two things from the HSM: where a file lives on
// tape (Resolve) and a way to copy it back to disk (Stage). Failures are
// reported as *Error values whose Kind tells the caller how to recover.
package hsm

import (
	"context"
	"errors"
	"fmt"
)

// Bridge defines the operations the scheduler performs against the HSM.
type Bridge interface {
	// Resolve looks up the tape placement of a file.
	Resolve(ctx context.Context, file string) (FileMetadata, error)
	// Stage copies the file back from tape to disk.
	Stage(ctx context.Context, req StageRequest) error
}

// FileMetadata is the resolved placement of one file.
type FileMetadata struct {
	File     string `yaml:"file"`
	Tape     string `yaml:"tape"`
	Position int64  `yaml:"position"`
	Size     int64  `yaml:"size"`
	// OnDisk is set when the file already has a disk copy and needs no staging.
	OnDisk bool `yaml:"on_disk"`
}

// StageRequest identifies a single staging attempt.
type StageRequest struct {
	File     string
	Tape     string
	Position int64
	Size     int64
	User     string
}

var (
	// ErrResourceExhausted means no drive could be obtained; the queue should suspend.
	ErrResourceExhausted = errors.New("hsm resources exhausted")
	// ErrTransientStage means the attempt failed but may succeed when retried.
	ErrTransientStage = errors.New("transient staging problem")
	// ErrMetadata means the file properties could not be resolved.
	ErrMetadata = errors.New("file properties problem")
	// ErrPermanent means the operation will never succeed.
	ErrPermanent = errors.New("permanent hsm failure")
)

// Error codes persisted on failed requests.
const (
	CodeNone              = 0
	CodeResourceExhausted = 1
	CodeTransient         = 2
	CodeMetadata          = 3
	CodePermanent         = 4
	CodeMaxSuspendRetries = 5
	CodeNoMediaType       = 6
)

// Error is a typed bridge failure.
type Error struct {
	Kind    error
	Code    int
	Message string
}

func NewError(kind error, message string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    codeOf(kind),
		Message: fmt.Sprintf(message, args...),
	}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Describe extracts a persistable code and message from any error.
func Describe(err error) (int, string) {
	if err == nil {
		return CodeNone, ""
	}

	var herr *Error
	if errors.As(err, &herr) {
		return herr.Code, herr.Error()
	}

	return codeOf(err), err.Error()
}

func codeOf(err error) int {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrTransientStage):
		return CodeTransient
	case errors.Is(err, ErrMetadata):
		return CodeMetadata
	default:
		return CodePermanent
	}
}
