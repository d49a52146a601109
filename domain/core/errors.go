package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors
	ErrConfiguration  = errors.New("configuration error")
	ErrColumnNotFound = fmt.Errorf("%w: column not found", ErrConfiguration)
	ErrTableNotFound  = fmt.Errorf("%w: table not found", ErrConfiguration)

	// Parse errors
	ErrUnparsableTimestamp = errors.New("unparsable timestamp")

	// Run coordination errors
	ErrRunInProgress = errors.New("another archive run is in progress")
	ErrNoJournal     = errors.New("run journal not configured")
)

// Error constructors with context
func NewColumnNotFoundError(table, column string) error {
	return fmt.Errorf("%w: header %q not found in table %q", ErrColumnNotFound, column, table)
}

func NewTableNotFoundError(name string) error {
	return fmt.Errorf("%w: %q", ErrTableNotFound, name)
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsParseError(err error) bool {
	return errors.Is(err, ErrUnparsableTimestamp)
}
