package modem

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/stuffa/envsensor/at"
)

// Command is a single AT command line.
type Command struct {
	// Text is sent verbatim, followed by CRLF.
	Text string
	// Label is a human-readable description used in logs.
	Label string
	// CheckEcho requires the command text to be echoed back before a frame
	// is accepted as its reply.
	CheckEcho bool
}

// NewCommand returns a command that expects its echo.
func NewCommand(text, label string) Command {
	return Command{Text: text, Label: label, CheckEcho: true}
}

// Engine sends one command at a time over a Transport and classifies the
// reply. It performs no locking; Modem serializes access to it.
type Engine struct {
	transport Transport
	lines     *lineReader
	logger    *slog.Logger

	frameTimeouts int
	echoFrames    int
	flushFrames   int
	backlogSize   int

	// backlog holds notifications that arrived ahead of a command echo.
	backlog []string
}

// NewEngine builds an engine over t using the limits in config; zero limits
// take their defaults.
func NewEngine(t Transport, config Config) *Engine {
	config.setDefaults()
	return &Engine{
		transport:     t,
		lines:         newLineReader(t, config.Logger),
		logger:        config.Logger,
		frameTimeouts: config.FrameTimeouts,
		echoFrames:    config.EchoFrames,
		flushFrames:   config.FlushFrames,
		backlogSize:   config.URCBacklog,
	}
}

// ReadFrame reads lines until a terminal line or until the configured number
// of reads time out.
func (e *Engine) ReadFrame() Frame {
	var lines []string
	timeouts := 0
	for {
		line, err := e.lines.ReadLine()
		if errors.Is(err, ErrReadTimeout) {
			timeouts++
			if timeouts >= e.frameTimeouts {
				return Frame{Status: Timeout, Lines: lines}
			}
			continue
		}
		if err != nil {
			e.logger.Warn("transport read failed", "error", err)
			return Frame{Status: Timeout, Lines: lines, Err: err}
		}

		lines = append(lines, line)
		switch at.Classify(line) {
		case at.TypeOK:
			return Frame{Status: Success, Lines: lines}
		case at.TypeError:
			return Frame{Status: Failure, Lines: lines}
		}
	}
}

// Send writes cmd and waits for its reply. It returns the reply lines on OK,
// starting at the echo when one is expected, a *CommandError on an error line and a *CommandTimeout when the reply (or
// its echo) never completed.
func (e *Engine) Send(cmd Command) ([]string, error) {
	e.logger.Debug("sending command", "command", cmd.Text, "label", cmd.Label)

	if _, err := e.transport.Write([]byte(cmd.Text + at.CRLF)); err != nil {
		return nil, &CommandTimeout{Command: cmd.Text, Err: fmt.Errorf("write command: %w", err)}
	}

	var frame Frame
	for attempt := 1; ; attempt++ {
		frame = e.ReadFrame()
		if !cmd.CheckEcho || frame.Status == Timeout {
			break
		}
		if idx := slices.Index(frame.Lines, cmd.Text); idx >= 0 {
			// Lines ahead of the echo belong to no command.
			e.keep(frame.Lines[:idx])
			frame.Lines = frame.Lines[idx:]
			break
		}
		// A stale reply from an earlier command, or notifications.
		e.keep(frame.Lines)
		if attempt >= e.echoFrames {
			frame = Frame{Status: Timeout, Lines: frame.Lines}
			break
		}
	}

	switch frame.Status {
	case Success:
		e.logger.Debug("command succeeded", "command", cmd.Text, "lines", frame.Lines)
		return frame.Lines, nil
	case Failure:
		e.logger.Debug("command failed", "command", cmd.Text, "lines", frame.Lines)
		return nil, &CommandError{Command: cmd.Text, Lines: frame.Lines}
	default:
		e.logger.Debug("command timed out", "command", cmd.Text, "lines", frame.Lines)
		return nil, &CommandTimeout{Command: cmd.Text, Lines: frame.Lines, Err: frame.Err}
	}
}

// WaitFor reads frames, without sending anything, until an unsolicited line
// starting with prefix arrives. It returns the trimmed remainder of that line.
// At most attempts frames are read.
func (e *Engine) WaitFor(prefix string, attempts int) (string, bool) {
	return e.WaitForFunc(prefix, attempts, nil)
}

// WaitForFunc is WaitFor restricted to values accepted by match. Other
// notifications read meanwhile are kept for later waits.
func (e *Engine) WaitForFunc(prefix string, attempts int, match func(value string) bool) (string, bool) {
	var accept func(string, string) bool
	if match != nil {
		accept = func(_, v string) bool { return match(v) }
	}
	_, v, ok := e.WaitForAny([]string{prefix}, attempts, accept)
	return v, ok
}

// WaitForAny waits for the first notification starting with any of
// prefixes whose value is accepted by match (nil accepts all). It returns
// the matching prefix and the trimmed remainder of the line.
func (e *Engine) WaitForAny(prefixes []string, attempts int, match func(prefix, value string) bool) (string, string, bool) {
	accept := func(line string) (string, string, bool) {
		for _, prefix := range prefixes {
			if !strings.HasPrefix(line, prefix) {
				continue
			}
			v := strings.TrimSpace(line[len(prefix):])
			if match == nil || match(prefix, v) {
				return prefix, v, true
			}
		}
		return "", "", false
	}

	for i, line := range e.backlog {
		if prefix, v, ok := accept(line); ok {
			e.backlog = slices.Delete(e.backlog, i, i+1)
			return prefix, v, true
		}
	}

	// Lines with a waited-for prefix that were rejected are not kept: the
	// waiter has seen them.
	for range attempts {
		frame := e.ReadFrame()
		for i, line := range frame.Lines {
			if prefix, v, ok := accept(line); ok {
				e.keep(frame.Lines[:i], prefixes...)
				e.keep(frame.Lines[i+1:])
				return prefix, v, true
			}
		}
		e.keep(frame.Lines, prefixes...)
	}

	e.logger.Debug("notification not received", "prefixes", prefixes, "attempts", attempts)
	return "", "", false
}

// Flush drains the transport until a read times out and forgets any kept
// notifications. It returns the number of discarded lines.
func (e *Engine) Flush() int {
	discarded := 0
	for range e.flushFrames {
		frame := e.ReadFrame()
		discarded += len(frame.Lines)
		if frame.Status == Timeout {
			break
		}
	}
	e.backlog = nil

	if discarded > 0 {
		e.logger.Debug("flushed stale lines", "count", discarded)
	}
	return discarded
}

// Reset forgets partial input and kept notifications without reading. It is
// used on power transitions, after which nothing buffered is meaningful.
func (e *Engine) Reset() {
	e.lines.Discard()
	e.backlog = nil
}

// keep stores the notification lines among lines, except those starting
// with one of skip, dropping the oldest when the backlog is full.
func (e *Engine) keep(lines []string, skip ...string) {
	for _, line := range lines {
		if at.Classify(line) != at.TypeURC || slices.ContainsFunc(skip, func(p string) bool {
			return strings.HasPrefix(line, p)
		}) {
			continue
		}
		if len(e.backlog) >= e.backlogSize {
			e.logger.Warn("notification backlog full, dropping oldest", "dropped", e.backlog[0])
			e.backlog = e.backlog[1:]
		}
		e.backlog = append(e.backlog, line)
	}
}
