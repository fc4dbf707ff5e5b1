package modem_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stuffa/envsensor/modem"
)

// testPin is an enable line that can announce the SIM when powered.
type testPin struct {
	level  bool
	onHigh func()
}

func (p *testPin) High() {
	p.level = true
	if p.onHigh != nil {
		p.onHigh()
	}
}

func (p *testPin) Low()      { p.level = false }
func (p *testPin) Get() bool { return p.level }

// logRecorder keeps log records so tests can assert on them.
type logRecorder struct {
	t       *testing.T
	mu      sync.Mutex
	records []slog.Record
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	h.t.Helper()

	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s:%v", a.Key, a.Value)
		return true
	})
	h.t.Logf("Log level %v: %s", r.Level, msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

// WithAttrs ignores attributes, like groups below.
func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logRecorder) WithGroup(string) slog.Handler      { return h }

// states returns the attach states logged, in order.
func (h *logRecorder) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var states []string
	for _, r := range h.records {
		if r.Message != "attach state changed" {
			continue
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "state" {
				states = append(states, a.Value.String())
				return false
			}
			return true
		})
	}
	return states
}

// newTestModem builds a modem over tt with no delays. The enable line
// announces a ready SIM whenever it is raised.
func newTestModem(t *testing.T, tt *modem.TestTransport, configure ...func(*modem.ConfigBuilder)) (*modem.Modem, *testPin, *logRecorder) {
	t.Helper()

	pin := &testPin{onHigh: func() { tt.Push("+CPIN: READY") }}
	logs := &logRecorder{t: t}

	b := modem.NewConfigBuilder().
		WithDialer(tt).
		WithEnablePin(pin).
		WithLogger(slog.New(logs)).
		WithoutDelays()
	for _, c := range configure {
		c(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, pin, logs
}

// attachScript answers the commands Enable sends with a healthy network.
func attachScript(tt *modem.TestTransport) *modem.TestTransport {
	return tt.
		Always("AT", "OK").
		Always("AT+CPIN?", "+CPIN: READY", "OK").
		Always("AT+CSQ", "+CSQ: 20,99", "OK").
		Always("AT+CGACT?", "+CGACT: 1,1", "OK")
}

// enabledModem returns a modem that has attached successfully.
func enabledModem(t *testing.T, tt *modem.TestTransport, configure ...func(*modem.ConfigBuilder)) (*modem.Modem, *logRecorder) {
	t.Helper()

	m, _, logs := newTestModem(t, attachScript(tt), configure...)
	if !m.Enable(context.Background()) {
		t.Fatal("Enable() = false, want true")
	}
	return m, logs
}

// countPrefix counts written commands starting with prefix.
func countPrefix(tt *modem.TestTransport, prefix string) int {
	n := 0
	for _, w := range tt.Written() {
		if strings.HasPrefix(w, prefix) {
			n++
		}
	}
	return n
}
