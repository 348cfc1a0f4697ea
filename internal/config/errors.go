package config

import "fmt"

// ConfigError ist nur beim Prozessstart zulässig und dort fatal. Kein
// Worker startet, bevor die gesamte Konfiguration gelesen ist.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
