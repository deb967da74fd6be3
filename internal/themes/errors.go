package themes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrThemeNotFound is returned when a theme or its question document
	// cannot be located.
	ErrThemeNotFound = errors.New("theme not found")

	// ErrOfflineUnavailable is returned when a theme's data was never
	// cached and the origin cannot be reached.
	ErrOfflineUnavailable = errors.New("theme is not available offline")

	// ErrMalformedData is returned when a question document is not JSON
	// of an accepted shape.
	ErrMalformedData = errors.New("malformed theme data")

	// ErrInvalidTheme is returned when an imported theme fails validation.
	ErrInvalidTheme = errors.New("invalid theme")
)

// FetchError reports a question document served with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// InvalidThemeError carries the validation report of a rejected theme.
type InvalidThemeError struct {
	Report Report
}

func (e *InvalidThemeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidTheme, strings.Join(e.Report.Errors, "; "))
}

func (e *InvalidThemeError) Unwrap() error {
	return ErrInvalidTheme
}
