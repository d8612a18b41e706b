package poller

import (
	"errors"
	"fmt"
)

// fatal is implemented by errors that must stop polling.
type fatal interface {
	Fatal() bool
}

// IsFatal reports whether err, or any error it wraps, is non-recoverable:
// bad configuration or credentials the tracker refuses.
func IsFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Fatal marks configuration errors as non-recoverable.
func (e *ConfigError) Fatal() bool { return true }
