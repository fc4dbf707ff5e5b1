package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func newRunner(f *fakeModem) (*Runner, *bytes.Buffer) {
	config, _ := LoadConfig(WithDefaults())
	out := &bytes.Buffer{}
	return &Runner{
		Modem:  f,
		Config: config,
		Logger: discardLogger(),
		In:     strings.NewReader(""),
		Out:    out,
	}, out
}

func TestRunnerRun(t *testing.T) {
	tests := []struct {
		args []string
		call string
		want string
	}{
		{[]string{"enable"}, "enable", "enabled\n"},
		{[]string{"disable"}, "disable", "disabled\n"},
		{[]string{"wake"}, "wakeup", "awake\n"},
		{[]string{"sleep"}, "sleep", "asleep\n"},
		{[]string{"rssi"}, "rssi", "-73 dBm\n"},
		{[]string{"dns", "example.com"}, "dns example.com", "1.2.3.4\n"},
		{[]string{"time"}, "time", "2025-07-23T10:37:16Z\n"},
		{[]string{"version"}, "version", "1752B12SIM7020E\n"},
		{[]string{"settings"}, "settings", "AT+CSQ: +CSQ: 20,99 | OK\n"},
		{[]string{"reset"}, "reset", "factory reset complete\n"},
		{[]string{"fota"}, "fota", "firmware updated\n"},
		{[]string{"post", "example.com", "/ingest", `{"a":1}`}, "post example.com/ingest", "posted\n"},
		{[]string{"mqtt", "t/1", `{"a":1}`}, "mqtt t/1", "published\n"},
	}

	for _, tc := range tests {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			f := newFakeModem()
			r, out := newRunner(f)

			if err := r.Run(context.Background(), tc.args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(f.Calls(), []string{tc.call}) {
				t.Errorf("calls = %q, want %q", f.Calls(), tc.call)
			}
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestRunnerFailures(t *testing.T) {
	for _, args := range [][]string{
		{"enable"}, {"wake"}, {"rssi"}, {"dns", "example.com"}, {"time"}, {"version"},
		{"settings"}, {"reset"}, {"fota"}, {"get", "example.com", "/x"},
		{"post", "example.com", "/x", "{}"}, {"mqtt", "t", "{}"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			f := newFakeModem()
			f.fail = true
			r, _ := newRunner(f)

			if err := r.Run(context.Background(), args); !errors.Is(err, ErrFailed) {
				t.Errorf("expected ErrFailed, got %v", err)
			}
		})
	}
}

func TestRunnerUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"No command", nil},
		{"Unknown command", []string{"dial"}},
		{"Missing argument", []string{"dns"}},
		{"Extra argument", []string{"rssi", "now"}},
		{"Invalid JSON", []string{"mqtt", "t", "{"}},
		{"Serve unavailable", []string{"serve"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeModem()
			r, _ := newRunner(f)

			if err := r.Run(context.Background(), tc.args); !errors.Is(err, ErrUsage) {
				t.Errorf("expected ErrUsage, got %v", err)
			}
			if tc.name == "Invalid JSON" && len(f.Calls()) != 0 {
				t.Errorf("modem used for invalid input: %q", f.Calls())
			}
		})
	}
}

func TestRunnerMQTTPublishesRawJSON(t *testing.T) {
	f := newFakeModem()
	r, _ := newRunner(f)

	if err := r.Run(context.Background(), []string{"mqtt", "t", `{"a": [1, 2]}`}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := json.Marshal(f.published["t"])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a":[1,2]}` {
		t.Errorf("published %s", got)
	}
}

func TestRunnerServe(t *testing.T) {
	f := newFakeModem()
	r, _ := newRunner(f)
	called := false
	r.Serve = func(context.Context) error {
		called = true
		return nil
	}

	if err := r.Run(context.Background(), []string{"serve"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("Serve not called")
	}
}

func TestShell(t *testing.T) {
	f := newFakeModem()
	r, out := newRunner(f)
	r.In = strings.NewReader(strings.Join([]string{
		"rssi",
		"",
		`dns "example.com"`,
		"bogus",
		`mqtt 'a b' '{"x": 1}'`,
		"shell",
		"help",
		`dns "unterminated`,
		"exit",
		"rssi",
	}, "\n"))

	if err := r.Run(context.Background(), []string{"shell"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"rssi", "dns example.com", "mqtt a b"}
	if !slices.Equal(f.Calls(), want) {
		t.Errorf("calls = %q, want %q", f.Calls(), want)
	}
	for _, s := range []string{"-73 dBm", `unknown command "bogus"`, "shell is not available", "commands:"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output missing %q:\n%s", s, out.String())
		}
	}
}

func TestShellStopsWhenCancelled(t *testing.T) {
	f := newFakeModem()
	r, _ := newRunner(f)
	r.In = strings.NewReader("rssi\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, []string{"shell"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(f.Calls()) != 0 {
		t.Errorf("commands ran after cancel: %q", f.Calls())
	}
}

func TestReport(t *testing.T) {
	t.Run("Publishes the start message", func(t *testing.T) {
		f := newFakeModem()
		r, _ := newRunner(f)

		if err := r.Run(context.Background(), []string{"report"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"enable", "mqtt environment/envsensor/start", "disable"}
		if !slices.Equal(f.Calls(), want) {
			t.Errorf("calls = %q, want %q", f.Calls(), want)
		}
		msg, ok := f.published["environment/envsensor/start"].(StartMessage)
		if !ok {
			t.Fatalf("published %T", f.published["environment/envsensor/start"])
		}
		if msg.ID != "envsensor" || msg.Name != "PicoSensor" || msg.Reason != "PowerOn" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if _, err := time.Parse("2006-01-02T15:04:05", msg.UTC); err != nil {
			t.Errorf("bad timestamp %q: %v", msg.UTC, err)
		}
	})

	t.Run("Remote configuration renames the sensor", func(t *testing.T) {
		f := newFakeModem()
		f.content["config.example/api/sensors/envsensor"] = `{"name":"Kitchen","sample_count":4}`
		r, _ := newRunner(f)
		r.Config.ConfigHost = "config.example"

		if err := r.Run(context.Background(), []string{"report"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msg := f.published["environment/envsensor/start"].(StartMessage)
		if msg.Name != "Kitchen" {
			t.Errorf("Name = %q, want Kitchen", msg.Name)
		}
	})

	t.Run("Invalid remote configuration is ignored", func(t *testing.T) {
		f := newFakeModem()
		f.content["config.example/api/sensors/envsensor"] = `not json`
		r, _ := newRunner(f)
		r.Config.ConfigHost = "config.example"

		if err := r.Run(context.Background(), []string{"report"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msg := f.published["environment/envsensor/start"].(StartMessage)
		if msg.Name != "PicoSensor" {
			t.Errorf("Name = %q, want PicoSensor", msg.Name)
		}
	})

	t.Run("Attach failure", func(t *testing.T) {
		f := newFakeModem()
		f.fail = true
		r, _ := newRunner(f)

		if err := r.Run(context.Background(), []string{"report"}); !errors.Is(err, ErrFailed) {
			t.Fatalf("expected ErrFailed, got %v", err)
		}
		if !slices.Equal(f.Calls(), []string{"enable"}) {
			t.Errorf("calls = %q", f.Calls())
		}
	})
}
