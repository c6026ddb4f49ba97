package config

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a config path or directory does not exist.
	ErrNotFound = errors.New("config not found")
	// ErrMalformed is returned when a config file cannot be parsed or is invalid.
	ErrMalformed = errors.New("config malformed")
)

// Error is a configuration failure tied to a path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
