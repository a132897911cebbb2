package domain

import "fmt"

// ConfigError marks a misconfigured tenant or binary (missing timezone,
// missing carrier credentials). It fails the individual attempt but must not
// crash the batch that surfaced it.
type ConfigError struct {
	Field string
	Msg   string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}
