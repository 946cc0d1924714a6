package main

import (
	"errors"
	"fmt"

	"example.com/panelstages/internal/stage"
)

const (
	exitFailure    = 1
	exitUnknownKey = 2
)

// usageError marks bad flags or arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// notAllowedError is returned by `can` when the stage is not open.
type notAllowedError struct {
	stage  string
	status stage.Status
}

func (e notAllowedError) Error() string {
	return fmt.Sprintf("stage %s is %s", e.stage, e.status)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, stage.ErrUnknownStage):
		return exitUnknownKey
	default:
		return exitFailure
	}
}
