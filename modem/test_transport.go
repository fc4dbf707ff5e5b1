package modem

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// TestTransport is a scripted in-memory modem for tests. Commands written to
// it are echoed and answered from a script; reads return whatever is queued
// and time out immediately when nothing is. It is also a Dialer returning
// itself.
type TestTransport struct {
	mu      sync.Mutex
	pending []byte
	partial []byte
	once    map[string][][]string
	always  map[string][]string
	written []string
	echo    bool
	closed  bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		once:   make(map[string][][]string),
		always: make(map[string][]string),
		echo:   true,
	}
}

// Expect queues a reply to the next occurrence of cmd. Replies queued for
// the same command are used in order, before any Always reply.
func (t *TestTransport) Expect(cmd string, lines ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.once[cmd] = append(t.once[cmd], lines)
	return t
}

// Always answers every occurrence of cmd with lines once queued replies are
// used up.
func (t *TestTransport) Always(cmd string, lines ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.always[cmd] = lines
	return t
}

// SetEcho controls whether commands are echoed back.
func (t *TestTransport) SetEcho(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = on
}

// Push queues unsolicited output.
func (t *TestTransport) Push(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(lines)
}

// SendData queues raw bytes, allowing partial lines and odd framing.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, data...)
}

// Written returns the commands received so far, without line endings.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

// Count returns how many times cmd was received.
func (t *TestTransport) Count(cmd string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.written {
		if w == cmd {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestTransport) Dial(context.Context) (Transport, error) {
	return t, nil
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	t.partial = append(t.partial, p...)
	for {
		i := bytes.Index(t.partial, []byte("\r\n"))
		if i < 0 {
			break
		}
		cmd := string(t.partial[:i])
		t.partial = t.partial[i+2:]
		t.answer(cmd)
	}
	return len(p), nil
}

func (t *TestTransport) answer(cmd string) {
	t.written = append(t.written, cmd)
	if t.echo {
		t.push([]string{cmd})
	}
	if queued := t.once[cmd]; len(queued) > 0 {
		t.once[cmd] = queued[1:]
		t.push(queued[0])
		return
	}
	if lines, ok := t.always[cmd]; ok {
		t.push(lines)
	}
}

func (t *TestTransport) push(lines []string) {
	if len(lines) == 0 {
		return
	}
	t.pending = append(t.pending, strings.Join(lines, "\r\n")+"\r\n"...)
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
