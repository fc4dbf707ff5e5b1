package modem

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/stuffa/envsensor/at"
)

// lineReader turns timed transport reads into text lines.
type lineReader struct {
	rd     io.Reader
	logger *slog.Logger
	buf    []byte
	chunk  [256]byte
}

func newLineReader(rd io.Reader, logger *slog.Logger) *lineReader {
	return &lineReader{rd: rd, logger: logger}
}

// ReadLine returns the next non-empty trimmed line, or ErrReadTimeout when a
// read elapsed without data. Data pending at a timeout is returned as a line
// of its own; garbled input is the caller's problem.
func (r *lineReader) ReadLine() (string, error) {
	for {
		if advance, token, _ := at.Splitter(r.buf, false); advance > 0 && len(token) <= MaxLineLength {
			r.buf = r.buf[advance:]
			if line := strings.TrimSpace(string(token)); line != "" {
				return line, nil
			}
			continue
		}

		if len(r.buf) >= MaxLineLength {
			line := strings.TrimSpace(string(r.buf[:MaxLineLength]))
			r.buf = r.buf[MaxLineLength:]
			r.logger.Warn("cutting response line", "error", ErrLineTooLong, "length", MaxLineLength)
			return line, nil
		}

		n, err := r.rd.Read(r.chunk[:])
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n > 0 {
			continue
		}

		if len(r.buf) > 0 {
			_, token, _ := at.Splitter(r.buf, true)
			r.buf = nil
			if line := strings.TrimSpace(string(token)); line != "" {
				return line, nil
			}
		}
		return "", ErrReadTimeout
	}
}

// Discard drops any partially received data.
func (r *lineReader) Discard() {
	r.buf = nil
}

// Status classifies a frame.
type Status int

const (
	// Success means the frame ended with OK.
	Success Status = iota
	// Failure means the frame ended with ERROR, +CME ERROR or +CMS ERROR.
	Failure
	// Timeout means no terminal line arrived within the read budget.
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Frame is the outcome of reading up to a terminal line. Lines keeps every
// line in arrival order, the terminal one included. Err is set when a
// transport failure ended the frame.
type Frame struct {
	Status Status
	Lines  []string
	Err    error
}
