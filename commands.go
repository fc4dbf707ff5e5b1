package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/stuffa/envsensor/modem"
)

// Controller is the part of *modem.Modem the commands drive.
type Controller interface {
	Enable(ctx context.Context) bool
	Disable()
	Wakeup(ctx context.Context) bool
	GotoSleep()
	State() modem.AttachState
	RSSI(ctx context.Context) (int, bool)
	DNSLookup(ctx context.Context, host string) (netip.Addr, bool)
	SetTime(ctx context.Context) (time.Time, bool)
	FirmwareVersion(ctx context.Context) string
	CheckSettings(ctx context.Context) (map[string][]string, bool)
	FactoryReset(ctx context.Context) bool
	UpdateFirmware(ctx context.Context) bool
	GetHTTP(ctx context.Context, host, path string) (string, bool)
	PostHTTP(ctx context.Context, host, path string, message any) bool
	SendMQTT(ctx context.Context, topic string, message any) bool
}

var (
	// ErrFailed is returned when the modem reports an operation failed;
	// the details are in the log.
	ErrFailed = errors.New("operation failed")
	// ErrUsage is returned for unknown commands and wrong arguments.
	ErrUsage = errors.New("usage")
)

// Runner executes console commands against the modem.
type Runner struct {
	Modem  Controller
	Config *Config
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	// Serve runs the control API until ctx is cancelled.
	Serve func(ctx context.Context) error
}

type command struct {
	args  string
	nargs int
	run   func(r *Runner, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"enable":   {run: (*Runner).enable},
		"disable":  {run: (*Runner).disable},
		"wake":     {run: (*Runner).wake},
		"sleep":    {run: (*Runner).sleep},
		"state":    {run: (*Runner).state},
		"rssi":     {run: (*Runner).rssi},
		"dns":      {args: "<host>", nargs: 1, run: (*Runner).dns},
		"time":     {run: (*Runner).syncTime},
		"version":  {run: (*Runner).version},
		"settings": {run: (*Runner).settings},
		"reset":    {run: (*Runner).reset},
		"fota":     {run: (*Runner).fota},
		"get":      {args: "<host> <path>", nargs: 2, run: (*Runner).get},
		"post":     {args: "<host> <path> <json>", nargs: 3, run: (*Runner).post},
		"mqtt":     {args: "<topic> <json>", nargs: 2, run: (*Runner).mqtt},
		"report":   {run: (*Runner).report},
		"shell":    {run: (*Runner).shell},
		"serve":    {run: (*Runner).serve},
	}
}

// Usage lists the commands.
func Usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintln(w, "commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", name, commands[name].args)
	}
}

// Run executes a single command.
func (r *Runner) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command", ErrUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if len(args)-1 != cmd.nargs {
		return fmt.Errorf("%w: %s %s", ErrUsage, args[0], cmd.args)
	}
	return cmd.run(r, ctx, args[1:])
}

func (r *Runner) enable(ctx context.Context, _ []string) error {
	if !r.Modem.Enable(ctx) {
		return fmt.Errorf("enable: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, "enabled")
	return nil
}

func (r *Runner) disable(context.Context, []string) error {
	r.Modem.Disable()
	fmt.Fprintln(r.Out, "disabled")
	return nil
}

func (r *Runner) wake(ctx context.Context, _ []string) error {
	if !r.Modem.Wakeup(ctx) {
		return fmt.Errorf("wake: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, "awake")
	return nil
}

func (r *Runner) sleep(context.Context, []string) error {
	r.Modem.GotoSleep()
	fmt.Fprintln(r.Out, "asleep")
	return nil
}

func (r *Runner) state(context.Context, []string) error {
	fmt.Fprintln(r.Out, r.Modem.State())
	return nil
}

func (r *Runner) rssi(ctx context.Context, _ []string) error {
	rssi, ok := r.Modem.RSSI(ctx)
	if !ok {
		return fmt.Errorf("rssi: %w", ErrFailed)
	}
	fmt.Fprintf(r.Out, "%d dBm\n", rssi)
	return nil
}

func (r *Runner) dns(ctx context.Context, args []string) error {
	addr, ok := r.Modem.DNSLookup(ctx, args[0])
	if !ok {
		return fmt.Errorf("dns %s: %w", args[0], ErrFailed)
	}
	fmt.Fprintln(r.Out, addr)
	return nil
}

func (r *Runner) syncTime(ctx context.Context, _ []string) error {
	t, ok := r.Modem.SetTime(ctx)
	if !ok {
		return fmt.Errorf("time: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, t.Format(time.RFC3339Nano))
	return nil
}

func (r *Runner) version(ctx context.Context, _ []string) error {
	v := r.Modem.FirmwareVersion(ctx)
	if v == "" {
		return fmt.Errorf("version: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, v)
	return nil
}

func (r *Runner) settings(ctx context.Context, _ []string) error {
	settings, ok := r.Modem.CheckSettings(ctx)

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(r.Out, "%s: %s\n", k, strings.Join(settings[k], " | "))
	}

	if !ok {
		return fmt.Errorf("settings: %w", ErrFailed)
	}
	return nil
}

func (r *Runner) reset(ctx context.Context, _ []string) error {
	if !r.Modem.FactoryReset(ctx) {
		return fmt.Errorf("reset: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, "factory reset complete")
	return nil
}

func (r *Runner) fota(ctx context.Context, _ []string) error {
	if !r.Modem.UpdateFirmware(ctx) {
		return fmt.Errorf("fota: %w", ErrFailed)
	}
	fmt.Fprintln(r.Out, "firmware updated")
	return nil
}

func (r *Runner) get(ctx context.Context, args []string) error {
	content, ok := r.Modem.GetHTTP(ctx, args[0], args[1])
	if !ok {
		return fmt.Errorf("get %s%s: %w", args[0], args[1], ErrFailed)
	}
	fmt.Fprintln(r.Out, content)
	return nil
}

func (r *Runner) post(ctx context.Context, args []string) error {
	body, err := rawJSON(args[2])
	if err != nil {
		return err
	}
	if !r.Modem.PostHTTP(ctx, args[0], args[1], body) {
		return fmt.Errorf("post %s%s: %w", args[0], args[1], ErrFailed)
	}
	fmt.Fprintln(r.Out, "posted")
	return nil
}

func (r *Runner) mqtt(ctx context.Context, args []string) error {
	body, err := rawJSON(args[1])
	if err != nil {
		return err
	}
	if !r.Modem.SendMQTT(ctx, args[0], body) {
		return fmt.Errorf("mqtt %s: %w", args[0], ErrFailed)
	}
	fmt.Fprintln(r.Out, "published")
	return nil
}

func (r *Runner) serve(ctx context.Context, _ []string) error {
	if r.Serve == nil {
		return fmt.Errorf("%w: serve is not available here", ErrUsage)
	}
	return r.Serve(ctx)
}

// rawJSON checks s is a JSON document so it is published unchanged.
func rawJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: invalid JSON %q", ErrUsage, s)
	}
	return json.RawMessage(s), nil
}
