package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarting   = errors.New("supervisor start already in progress")
	ErrComponentNotFound = errors.New("component not found")
	ErrStopTimeout       = errors.New("stop grace period exceeded")
)

// DependencyStartError reports the component whose start aborted the ordered
// startup. Components started before it have been stopped again.
type DependencyStartError struct {
	Component string
	Err       error
}

func (e *DependencyStartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Component, e.Err)
}

func (e *DependencyStartError) Unwrap() error {
	return e.Err
}

// ComponentError is a non-fatal failure collected while stopping or reloading.
type ComponentError struct {
	Component string
	Op        string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}
