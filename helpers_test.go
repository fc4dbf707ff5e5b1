package main

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/stuffa/envsensor/modem"
)

// fakeModem is a Controller recording calls, with canned results.
type fakeModem struct {
	mu    sync.Mutex
	calls []string

	fail     bool
	state    modem.AttachState
	rssi     int
	addr     netip.Addr
	now      time.Time
	version  string
	settings map[string][]string
	content  map[string]string

	published map[string]any
	posted    map[string]any
}

func newFakeModem() *fakeModem {
	return &fakeModem{
		rssi:      -73,
		addr:      netip.MustParseAddr("1.2.3.4"),
		now:       time.Date(2025, time.July, 23, 10, 37, 16, 0, time.UTC),
		version:   "1752B12SIM7020E",
		settings:  map[string][]string{"AT+CSQ": {"+CSQ: 20,99", "OK"}},
		content:   map[string]string{},
		published: map[string]any{},
		posted:    map[string]any{},
	}
}

func (f *fakeModem) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeModem) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeModem) Enable(context.Context) bool {
	f.record("enable")
	if !f.fail {
		f.state = modem.Enabled
	}
	return !f.fail
}

func (f *fakeModem) Disable() {
	f.record("disable")
	f.state = modem.Disabled
}

func (f *fakeModem) Wakeup(context.Context) bool {
	f.record("wakeup")
	return !f.fail
}

func (f *fakeModem) GotoSleep() {
	f.record("sleep")
	f.state = modem.Disabled
}

func (f *fakeModem) State() modem.AttachState { return f.state }

func (f *fakeModem) RSSI(context.Context) (int, bool) {
	f.record("rssi")
	return f.rssi, !f.fail
}

func (f *fakeModem) DNSLookup(_ context.Context, host string) (netip.Addr, bool) {
	f.record("dns " + host)
	return f.addr, !f.fail
}

func (f *fakeModem) SetTime(context.Context) (time.Time, bool) {
	f.record("time")
	return f.now, !f.fail
}

func (f *fakeModem) FirmwareVersion(context.Context) string {
	f.record("version")
	if f.fail {
		return ""
	}
	return f.version
}

func (f *fakeModem) CheckSettings(context.Context) (map[string][]string, bool) {
	f.record("settings")
	return f.settings, !f.fail
}

func (f *fakeModem) FactoryReset(context.Context) bool {
	f.record("reset")
	return !f.fail
}

func (f *fakeModem) UpdateFirmware(context.Context) bool {
	f.record("fota")
	return !f.fail
}

func (f *fakeModem) GetHTTP(_ context.Context, host, path string) (string, bool) {
	f.record("get " + host + path)
	content, ok := f.content[host+path]
	return content, ok && !f.fail
}

func (f *fakeModem) PostHTTP(_ context.Context, host, path string, message any) bool {
	f.record("post " + host + path)
	f.posted[host+path] = message
	return !f.fail
}

func (f *fakeModem) SendMQTT(_ context.Context, topic string, message any) bool {
	f.record("mqtt " + topic)
	f.published[topic] = message
	return !f.fail
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
