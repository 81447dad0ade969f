package scheduler

import (
	"fmt"
	"regexp"
	"time"
)

// MediaType is a family of tapes sharing the same kind of drives.
type MediaType struct {
	ID      uint
	Name    string
	Pattern *regexp.Regexp
	Drives  int
}

func NewMediaType(id uint, name, pattern string, drives int) (*MediaType, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for media type '%s': %w", name, err)
	}
	if drives < 0 {
		return nil, fmt.Errorf("%w: media type '%s' has negative drive count %d", ErrInvalidParameter, name, drives)
	}

	return &MediaType{
		ID:      id,
		Name:    name,
		Pattern: re,
		Drives:  drives,
	}, nil
}

// Matches reports whether a tape name belongs to this media type.
func (mt *MediaType) Matches(tape string) bool {
	return mt.Pattern != nil && mt.Pattern.MatchString(tape)
}

// Tape identifies one physical cartridge.
type Tape struct {
	Name      string
	MediaType *MediaType
}

// User is compared by name only.
type User struct {
	Name  string
	UID   int
	GID   int
	Group string
}

func (u User) Equal(o User) bool {
	return u.Name == o.Name
}

func (u User) String() string {
	return u.Name
}

// File is a file of the HSM namespace.
type File struct {
	Name  string
	Owner User
	Size  int64
}

// FilePosition is the resolved placement of one file on one tape,
// together with the user that asked for it.
type FilePosition struct {
	File       File
	Tape       Tape
	Position   int64
	Requester  User
	ResolvedAt time.Time
}

func (fp *FilePosition) Validate() error {
	switch {
	case fp == nil:
		return fmt.Errorf("%w: file position is nil", ErrInvalidParameter)
	case fp.File.Name == "":
		return fmt.Errorf("%w: file position has no file", ErrInvalidParameter)
	case fp.Tape.Name == "":
		return fmt.Errorf("%w: file position of '%s' has no tape", ErrInvalidParameter, fp.File.Name)
	case fp.Requester.Name == "":
		return fmt.Errorf("%w: file position of '%s' has no requester", ErrInvalidParameter, fp.File.Name)
	case fp.Position < 0:
		return fmt.Errorf("%w: negative position %d for '%s'", ErrInvalidParameter, fp.Position, fp.File.Name)
	}
	return nil
}

// Stale reports whether the placement is older than maxAge.
func (fp *FilePosition) Stale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(fp.ResolvedAt) > maxAge
}
