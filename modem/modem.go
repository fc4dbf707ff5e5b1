package modem

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/modem/trace"

	"github.com/stuffa/envsensor/at"
)

// AttachState tracks network attachment.
type AttachState int

const (
	// Disabled means the modem is asleep or has no PDP context.
	Disabled AttachState = iota
	// Enabling is held while Enable waits for registration and a context.
	Enabling
	// Enabled means the modem is registered with an active PDP context.
	Enabled
)

func (s AttachState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Modem drives a SIM7020-class NB-IoT modem over AT commands.
//
// Every public operation holds the modem lock for its whole duration, so
// exactly one command is ever in flight. Operations never return modem
// failures as errors: they are logged and reported as false or an empty
// result. The caller decides whether to retry later or power-cycle.
type Modem struct {
	// mu serializes public operations
	mu sync.Mutex

	// transport is the (possibly traced) byte stream to the modem
	transport Transport
	// engine frames commands and replies on transport
	engine *Engine
	// config is the validated configuration with defaults applied
	config Config
	// logger is config.Logger, kept for brevity
	logger *slog.Logger

	// state is the network attachment state
	state AttachState
	// cid is the active PDP context id, empty unless Enabled
	cid string
	// closed is set by Close; later operations are refused
	closed bool
}

// New dials the modem and prepares the control lines. The modem is left
// asleep; call Enable (or Wakeup) before using it.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	if s, ok := transport.(readTimeoutSetter); ok {
		if err := s.SetReadTimeout(config.ReadTimeout); err != nil {
			transport.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}

	if config.Trace {
		tracer := slog.NewLogLogger(config.Logger.Handler(), slog.LevelDebug)
		transport = tracedTransport{
			ReadWriter: trace.New(transport, trace.WithLogger(tracer)),
			closer:     transport,
		}
	}

	config.EnablePin.Low()
	if config.DTRPin != nil {
		config.DTRPin.Low()
	}

	return &Modem{
		transport: transport,
		engine:    NewEngine(transport, config),
		config:    config,
		logger:    config.Logger,
	}, nil
}

// Close releases the transport. The enable line is left as it is.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true
	return m.transport.Close()
}

// State returns the current attach state.
func (m *Modem) State() AttachState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Awake reports whether the enable line is asserted.
func (m *Modem) Awake() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awake()
}

// ContextID returns the active PDP context id, or "" when not attached.
func (m *Modem) ContextID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cid
}

// Wakeup powers the modem up and waits for the SIM to report ready. An
// already awake modem is power-cycled first.
func (m *Modem) Wakeup(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.wakeup(ctx); err != nil {
		m.logger.Warn("wake up failed", "error", err)
		return false
	}
	return true
}

// GotoSleep deasserts the enable line. It is always safe to call.
func (m *Modem) GotoSleep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gotoSleep()
}

// Enable wakes the modem and attaches to the network: SIM check, signal
// check and PDP activation. Calling it while enabled runs a full
// disable/enable cycle. On any failure the modem is put back to sleep.
func (m *Modem) Enable(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enable(ctx); err != nil {
		m.logger.Warn("network attach failed", "error", err)
		m.gotoSleep()
		return false
	}
	m.logger.Info("network attached", "cid", m.cid)
	return true
}

// Disable detaches and puts the modem to sleep from any state.
func (m *Modem) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disable()
}

func (m *Modem) enable(ctx context.Context) error {
	if m.closed {
		return ErrAlreadyClosed
	}

	if m.state == Enabled {
		m.disable()
		if err := pause(ctx, m.config.CycleDelay); err != nil {
			return err
		}
	}

	m.setState(Enabling)
	if err := m.wakeup(ctx); err != nil {
		return fmt.Errorf("wake up: %w", err)
	}
	if err := m.waitForAT(ctx); err != nil {
		return err
	}
	m.engine.Flush()

	if err := m.checkPIN(); err != nil {
		return err
	}

	raw, err := m.signal()
	if err != nil {
		return err
	}
	if raw == 99 {
		return ErrNoSignal
	}

	cid, err := m.activatePDP(ctx)
	if err != nil {
		return err
	}

	m.cid = cid
	m.setState(Enabled)
	return nil
}

func (m *Modem) disable() {
	m.setState(Disabled)
	m.gotoSleep()
}

func (m *Modem) wakeup(ctx context.Context) error {
	if m.closed {
		return ErrAlreadyClosed
	}

	if m.awake() {
		if m.state == Enabled {
			m.cid = ""
			m.setState(Disabled)
		}
		m.powerOff()
		if err := pause(ctx, m.config.SettleDelay); err != nil {
			return err
		}
	}

	m.engine.Reset()
	m.config.EnablePin.High()
	m.logger.Debug("enable line asserted")

	v, ok := m.engine.WaitFor(at.RespPIN, m.config.WaitAttempts)
	if !ok {
		return fmt.Errorf("SIM status: %w", ErrNoNotification)
	}
	if v != at.SimReady {
		return fmt.Errorf("%w: %s", ErrSIMNotReady, v)
	}
	return nil
}

func (m *Modem) gotoSleep() {
	m.powerOff()
	m.cid = ""
	m.setState(Disabled)
}

func (m *Modem) powerOff() {
	m.config.EnablePin.Low()
	m.engine.Reset()
	m.logger.Debug("enable line deasserted")
}

func (m *Modem) awake() bool {
	return m.config.EnablePin.Get()
}

func (m *Modem) setState(s AttachState) {
	if m.state == s {
		return
	}
	m.logger.Info("attach state changed", "state", s.String(), "previous", m.state.String())
	m.state = s
}

// waitForAT sends bare AT until the modem answers OK.
func (m *Modem) waitForAT(ctx context.Context) error {
	for attempt := 1; attempt <= m.config.ATAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.send("AT", "attention"); err == nil {
			return nil
		}
		m.logger.Debug("modem not answering yet", "attempt", attempt)
	}
	return fmt.Errorf("%w after %d attempts", ErrNotResponding, m.config.ATAttempts)
}

func (m *Modem) checkPIN() error {
	lines, err := m.send("AT+CPIN?", "SIM status")
	if err != nil {
		return fmt.Errorf("query SIM: %w", err)
	}
	v, ok := at.ParseFor(at.RespPIN, lines)
	if !ok {
		return &ProtocolMismatch{Expected: at.RespPIN, Lines: lines}
	}
	if v != at.SimReady {
		return fmt.Errorf("%w: %s", ErrSIMNotReady, v)
	}
	return nil
}

// signal returns the raw CSQ value; 99 means not known or not detectable.
func (m *Modem) signal() (int, error) {
	lines, err := m.send("AT+CSQ", "signal quality")
	if err != nil {
		return 0, fmt.Errorf("query signal: %w", err)
	}
	v, ok := at.ParseFor(at.RespSignal, lines)
	rssi, _, found := strings.Cut(v, ",")
	if !ok || !found {
		return 0, &ProtocolMismatch{Expected: "rssi,ber", Lines: lines}
	}
	raw, err := strconv.Atoi(strings.TrimSpace(rssi))
	if err != nil {
		return 0, &ProtocolMismatch{Expected: "numeric rssi", Lines: lines}
	}
	return raw, nil
}

func (m *Modem) activatePDP(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= m.config.PDPRetries; attempt++ {
		lines, err := m.send("AT+CGACT?", "PDP context state")
		if err != nil {
			return "", fmt.Errorf("query PDP context: %w", err)
		}
		if v, ok := at.ParseFor(at.RespPDP, lines); ok {
			if f := at.Fields(v); len(f) >= 2 && f[1] == "1" {
				return f[0], nil
			}
		}

		m.logger.Debug("PDP context not active yet", "attempt", attempt)
		if attempt < m.config.PDPRetries {
			if err := pause(ctx, m.config.PDPRetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrPDPInactive, m.config.PDPRetries)
}

// network guards operations that need an attached, powered modem.
func (m *Modem) network() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if !m.awake() {
		return ErrAsleep
	}
	if m.state != Enabled {
		return ErrNotEnabled
	}
	return nil
}

// powered guards operations that only need the modem awake.
func (m *Modem) powered() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if !m.awake() {
		return ErrAsleep
	}
	return nil
}

func (m *Modem) send(text, label string) ([]string, error) {
	return m.engine.Send(NewCommand(text, label))
}

// sendQuiet sends a cleanup command whose outcome only matters for logs.
func (m *Modem) sendQuiet(text, label string) {
	if _, err := m.send(text, label); err != nil {
		m.logger.Debug("cleanup command failed", "command", text, "error", err)
	}
}

// pause waits d or until ctx is done. A zero d returns at once.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
