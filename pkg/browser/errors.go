package browser

import (
	"errors"
	"fmt"
)

// AttachError reports that a tab could not be attached over CDP, either
// because the tab is gone or because it disallows debugging.
type AttachError struct {
	TabID int
	Err   error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("failed to attach tab %d: %v", e.TabID, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// IsAttachError reports whether err is an AttachError.
func IsAttachError(err error) bool {
	var ae *AttachError
	return errors.As(err, &ae)
}

// FirewallError reports a navigation blocked by the URL firewall. It is a
// step failure, never retried.
type FirewallError struct {
	URL string
}

func (e *FirewallError) Error() string {
	return fmt.Sprintf("navigation to %q blocked by firewall", e.URL)
}

// IsFirewallError reports whether err is a FirewallError.
func IsFirewallError(err error) bool {
	var fe *FirewallError
	return errors.As(err, &fe)
}

// ErrNoSnapshot is returned when an index-addressed action runs before any
// DOM snapshot exists.
var ErrNoSnapshot = errors.New("no page snapshot available")

// ErrIndexNotFound is returned when a highlight index is absent from the
// current snapshot.
var ErrIndexNotFound = errors.New("highlight index not found in current snapshot")
