package modem

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoEnablePin is returned when a Modem is constructed without the
	// enable line that powers the modem up and down.
	ErrNoEnablePin = errors.New("no enable pin configured")

	// ErrNotInitialized is returned when the Dialer produced no transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLineTooLong is reported when a modem response line exceeds the
	// maximum allowed length. The line is cut and delivered anyway.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrReadTimeout marks a line read that elapsed without data.
	ErrReadTimeout = errors.New("read timeout")

	// ErrAsleep is returned by operations attempted while the enable line
	// is deasserted.
	ErrAsleep = errors.New("modem asleep")

	// ErrNotEnabled is returned by network operations attempted before a
	// successful Enable.
	ErrNotEnabled = errors.New("network not enabled")

	// ErrNotResponding is returned when the modem never answered AT within
	// the attempt budget.
	ErrNotResponding = errors.New("modem not responding")

	// ErrSIMNotReady is returned when the SIM did not report READY.
	ErrSIMNotReady = errors.New("SIM not ready")

	// ErrNoSignal is returned when the modem reports CSQ 99.
	ErrNoSignal = errors.New("no signal")

	// ErrPDPInactive is returned when the PDP context never became active
	// within the retry budget.
	ErrPDPInactive = errors.New("PDP context not active")

	// ErrNoNotification is returned when an expected unsolicited line never
	// arrived within the attempt budget.
	ErrNoNotification = errors.New("notification not received")

	// ErrLookupFailed is returned when the modem answered a DNS query with
	// a failure status or for a different host.
	ErrLookupFailed = errors.New("name lookup failed")

	// ErrHTTPConnection is returned when the modem reports +CHTTPERR for an
	// HTTP instance, typically a refused or dropped connection.
	ErrHTTPConnection = errors.New("HTTP connection error")

	// ErrNoUpdatePackage is returned when the modem reports that no firmware
	// update package is available.
	ErrNoUpdatePackage = errors.New("no update package")

	// ErrClockUnsupported is returned by SystemClock on platforms where the
	// device clock cannot be set.
	ErrClockUnsupported = errors.New("setting the clock is not supported on this platform")
)

// CommandError is returned when the modem answered a command with ERROR
// (or a +CME/+CMS error). Lines holds everything accumulated for the frame.
type CommandError struct {
	Command string
	Lines   []string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, strings.Join(e.Lines, " | "))
}

// CommandTimeout is returned when no terminal line arrived within the read
// budget. Lines holds the partial frame; Err carries a transport failure, if
// one caused the timeout.
type CommandTimeout struct {
	Command string
	Lines   []string
	Err     error
}

func (e *CommandTimeout) Error() string {
	msg := fmt.Sprintf("command %q timed out", e.Command)
	if len(e.Lines) > 0 {
		msg += ": " + strings.Join(e.Lines, " | ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandTimeout) Unwrap() error {
	return e.Err
}

// ProtocolMismatch is returned when a reply was terminal but did not carry
// the field an operation needs.
type ProtocolMismatch struct {
	Expected string
	Lines    []string
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol mismatch: expected %s in %q", e.Expected, e.Lines)
}

// SessionAllocationFailure is returned when a create command succeeded but
// returned no session id.
type SessionAllocationFailure struct {
	Kind  string
	Lines []string
}

func (e *SessionAllocationFailure) Error() string {
	return fmt.Sprintf("%s session not allocated: %q", e.Kind, e.Lines)
}

// HTTPStatusError is returned by GetHTTP internals when the server answered
// with a status other than 200.
type HTTPStatusError struct {
	Code string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected HTTP status " + e.Code
}

// IsModemError reports whether err is one of the expected modem outcomes
// (error line, timeout) rather than a protocol or programming defect.
func IsModemError(err error) bool {
	var cmdErr *CommandError
	var timeout *CommandTimeout
	return errors.As(err, &cmdErr) || errors.As(err, &timeout)
}
