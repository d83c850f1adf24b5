package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cache subsystem.
var (
	// ErrInvalidArgument is returned for malformed keys, tags or TTLs.
	ErrInvalidArgument = errors.New("cache: invalid argument")

	// ErrProviderUnavailable is returned when a backend cannot be reached or times out.
	ErrProviderUnavailable = errors.New("cache: provider unavailable")

	// ErrConfiguration is returned when resolved settings are invalid.
	ErrConfiguration = errors.New("cache: invalid configuration")

	// ErrEntryTooLarge is returned when an entry exceeds the provider size bound.
	ErrEntryTooLarge = fmt.Errorf("%w: entry too large", ErrInvalidArgument)

	// ErrClosed is returned when an operation is attempted on a closed provider.
	ErrClosed = errors.New("cache: provider closed")
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Is lets errors.Is match ConfigError against ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// ProviderError describes a failed backend operation.
type ProviderError struct {
	Provider ProviderKind
	Op       string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache: %s %s %q: %v", e.Provider, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports every ProviderError as ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// Unavailable wraps err as a ProviderError. A nil err stays nil.
func Unavailable(kind ProviderKind, op, key string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: kind, Op: op, Key: key, Err: err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
