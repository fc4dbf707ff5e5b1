package modem

import (
	"log/slog"
	"time"
)

const (
	DefaultReadTimeout   = time.Second
	DefaultFrameTimeouts = 1
	DefaultEchoFrames    = 8
	DefaultFlushFrames   = 32
	DefaultURCBacklog    = 100
	DefaultATAttempts    = 10
	DefaultWaitAttempts  = 30
	DefaultPDPRetries    = 10
	DefaultMQTTRetries   = 10
	DefaultFOTAAttempts  = 300

	DefaultPDPRetryDelay    = 3 * time.Second
	DefaultSettleDelay      = time.Second
	DefaultCycleDelay       = 3 * time.Second
	DefaultSessionDelay     = time.Second
	DefaultHTTPConnectDelay = 3 * time.Second
	DefaultRetryDelay       = 2 * time.Second
	DefaultRetryMaxDelay    = 30 * time.Second

	DefaultNTPServer   = "au.pool.ntp.org"
	DefaultContentType = "application/json"

	// MaxLineLength bounds a single response line; HTTP content chunks are
	// hex encoded and are the longest lines the modem sends.
	MaxLineLength = 4096
)

// MQTTBroker describes the broker and client settings used for every MQTT
// session the modem creates.
type MQTTBroker struct {
	Server   string
	Port     int
	ClientID string
	User     string
	Password string

	Version      int // 3 = MQTT 3.1, 4 = MQTT 3.1.1
	KeepAlive    int // seconds
	CleanSession bool
	WillFlag     bool
	QoS          int
	Retained     bool
	Dup          bool

	// CommandTimeoutMS and BufferSize are passed to AT+CMQNEW.
	CommandTimeoutMS int
	BufferSize       int
}

// DefaultMQTTBroker returns the session settings used by the sensor fleet;
// the caller fills in server and credentials.
func DefaultMQTTBroker() MQTTBroker {
	return MQTTBroker{
		Port:             1883,
		Version:          4,
		KeepAlive:        600,
		CleanSession:     true,
		QoS:              1,
		Retained:         true,
		CommandTimeoutMS: 12000,
		BufferSize:       1024,
	}
}

// Config holds the modem settings. Attempt counts left at zero are replaced
// by their defaults; delays left at zero disable the corresponding pause.
// NewConfigBuilder starts from DefaultConfig, which sets every delay.
type Config struct {
	Dialer    Dialer
	EnablePin Pin
	// DTRPin is the reserved secondary control line. It is driven low on
	// construction and otherwise left alone.
	DTRPin Pin
	Clock  Clock
	Logger *slog.Logger
	// Trace logs every byte exchanged with the modem at debug level.
	Trace bool

	// ReadTimeout is the per-read timeout applied to the transport.
	ReadTimeout time.Duration
	// FrameTimeouts is how many timed-out reads end a frame.
	FrameTimeouts int
	// EchoFrames bounds how many frames are read while looking for the
	// echo of a command.
	EchoFrames  int
	FlushFrames int
	URCBacklog  int

	ATAttempts   int
	WaitAttempts int
	PDPRetries   int
	MQTTRetries  int
	FOTAAttempts int

	PDPRetryDelay    time.Duration
	SettleDelay      time.Duration
	CycleDelay       time.Duration
	SessionDelay     time.Duration
	HTTPConnectDelay time.Duration
	RetryDelay       time.Duration
	RetryMaxDelay    time.Duration

	Broker      MQTTBroker
	NTPServer   string
	PDPType     string
	ContentType string
}

// DefaultConfig returns the production timing profile.
func DefaultConfig() Config {
	c := Config{
		Broker:           DefaultMQTTBroker(),
		PDPRetryDelay:    DefaultPDPRetryDelay,
		SettleDelay:      DefaultSettleDelay,
		CycleDelay:       DefaultCycleDelay,
		SessionDelay:     DefaultSessionDelay,
		HTTPConnectDelay: DefaultHTTPConnectDelay,
		RetryDelay:       DefaultRetryDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
	}
	c.setDefaults()
	return c
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.EnablePin == nil {
		return ErrNoEnablePin
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.FrameTimeouts == 0 {
		c.FrameTimeouts = DefaultFrameTimeouts
	}
	if c.EchoFrames == 0 {
		c.EchoFrames = DefaultEchoFrames
	}
	if c.FlushFrames == 0 {
		c.FlushFrames = DefaultFlushFrames
	}
	if c.URCBacklog == 0 {
		c.URCBacklog = DefaultURCBacklog
	}
	if c.ATAttempts == 0 {
		c.ATAttempts = DefaultATAttempts
	}
	if c.WaitAttempts == 0 {
		c.WaitAttempts = DefaultWaitAttempts
	}
	if c.PDPRetries == 0 {
		c.PDPRetries = DefaultPDPRetries
	}
	if c.MQTTRetries == 0 {
		c.MQTTRetries = DefaultMQTTRetries
	}
	if c.FOTAAttempts == 0 {
		c.FOTAAttempts = DefaultFOTAAttempts
	}
	if c.NTPServer == "" {
		c.NTPServer = DefaultNTPServer
	}
	if c.ContentType == "" {
		c.ContentType = DefaultContentType
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CommandBound is the worst-case time a single command can take before it
// is reported as a CommandTimeout.
func (c Config) CommandBound() time.Duration {
	return c.ReadTimeout * time.Duration(c.FrameTimeouts*c.EchoFrames)
}

// WaitBound is the worst-case time a wait for an unsolicited notification
// with the given attempt budget can take.
func (c Config) WaitBound(attempts int) time.Duration {
	return c.ReadTimeout * time.Duration(c.FrameTimeouts*attempts)
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder starts from DefaultConfig.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithEnablePin(p Pin) *ConfigBuilder {
	b.config.EnablePin = p
	return b
}

func (b *ConfigBuilder) WithDTRPin(p Pin) *ConfigBuilder {
	b.config.DTRPin = p
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithTrace(on bool) *ConfigBuilder {
	b.config.Trace = on
	return b
}

func (b *ConfigBuilder) WithReadTimeout(d time.Duration) *ConfigBuilder {
	b.config.ReadTimeout = d
	return b
}

func (b *ConfigBuilder) WithATAttempts(n int) *ConfigBuilder {
	b.config.ATAttempts = n
	return b
}

func (b *ConfigBuilder) WithWaitAttempts(n int) *ConfigBuilder {
	b.config.WaitAttempts = n
	return b
}

func (b *ConfigBuilder) WithPDPRetries(n int, delay time.Duration) *ConfigBuilder {
	b.config.PDPRetries = n
	b.config.PDPRetryDelay = delay
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.MQTTRetries = n
	return b
}

func (b *ConfigBuilder) WithRetryDelay(first, ceiling time.Duration) *ConfigBuilder {
	b.config.RetryDelay = first
	b.config.RetryMaxDelay = ceiling
	return b
}

func (b *ConfigBuilder) WithSettleDelay(d time.Duration) *ConfigBuilder {
	b.config.SettleDelay = d
	return b
}

func (b *ConfigBuilder) WithSessionDelay(d time.Duration) *ConfigBuilder {
	b.config.SessionDelay = d
	return b
}

// WithoutDelays zeroes every pause; useful against simulated modems.
func (b *ConfigBuilder) WithoutDelays() *ConfigBuilder {
	b.config.PDPRetryDelay = 0
	b.config.SettleDelay = 0
	b.config.CycleDelay = 0
	b.config.SessionDelay = 0
	b.config.HTTPConnectDelay = 0
	b.config.RetryDelay = 0
	b.config.RetryMaxDelay = 0
	return b
}

func (b *ConfigBuilder) WithBroker(broker MQTTBroker) *ConfigBuilder {
	b.config.Broker = broker
	return b
}

func (b *ConfigBuilder) WithNTPServer(server string) *ConfigBuilder {
	b.config.NTPServer = server
	return b
}

func (b *ConfigBuilder) WithPDPType(pdpType string) *ConfigBuilder {
	b.config.PDPType = pdpType
	return b
}

// Build validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
