package common

import "errors"

// ErrModulePaused is returned by Guard when the requested flow is halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named flow is currently paused. The engine
// consults it at the top of every state-mutating entry point.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed PauseView assembled from configuration.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
