package config

import "fmt"

// ConfigurationError reports unusable settings or key material. It is
// fatal: the process does not run the pipeline.
type ConfigurationError struct {
	// Key is the setting at fault, e.g. "wallet_key". Empty when the
	// failure is not tied to one setting.
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(key string, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Err: fmt.Errorf(format, args...)}
}
