package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the control API listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyAMA0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// Trace logs the raw modem traffic at debug level
	Trace bool
	// ReadTimeout is the per-read timeout on the serial port
	ReadTimeout time.Duration

	// GPIOChip is the character device driving the modem's enable line
	// (e.g. "gpiochip0"). Empty means the line is hard-wired.
	GPIOChip string
	// EnableLine is the line offset of the modem's power/enable pin
	EnableLine int
	// DTRLine is the line offset of the DTR pin, or -1 when not connected
	DTRLine int

	// SensorID identifies the sensor in topics and as the MQTT client id
	SensorID string
	// SensorName is reported in the start message unless the remote
	// configuration overrides it
	SensorName string
	// Reason is reported in the start message as the cause of the start
	Reason string

	MQTTServer   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string

	NTPServer string
	PDPType   string

	// ConfigHost serves the per-sensor remote configuration. Empty skips
	// the fetch.
	ConfigHost string
	// ConfigPath is the directory the sensor id is appended to
	ConfigPath string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyAMA0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.ReadTimeout = time.Second
		c.EnableLine = 14
		c.DTRLine = -1
		c.SensorID = "envsensor"
		c.SensorName = "PicoSensor"
		c.Reason = "PowerOn"
		c.MQTTPort = 1883
		c.NTPServer = "au.pool.ntp.org"
		c.ConfigPath = "/api/sensors/"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if trace := os.Getenv("MODEM_TRACE"); trace != "" {
			if b, err := strconv.ParseBool(trace); err == nil {
				c.Trace = b
			}
		}

		if timeout := os.Getenv("READ_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.ReadTimeout = d
			}
		}

		if chip := os.Getenv("GPIO_CHIP"); chip != "" {
			c.GPIOChip = chip
		}

		if line := os.Getenv("ENABLE_LINE"); line != "" {
			if n, err := strconv.Atoi(line); err == nil {
				c.EnableLine = n
			}
		}

		if line := os.Getenv("DTR_LINE"); line != "" {
			if n, err := strconv.Atoi(line); err == nil {
				c.DTRLine = n
			}
		}

		if id := os.Getenv("SENSOR_ID"); id != "" {
			c.SensorID = id
		}

		if name := os.Getenv("SENSOR_NAME"); name != "" {
			c.SensorName = name
		}

		if server := os.Getenv("MQTT_SERVER"); server != "" {
			c.MQTTServer = server
		}

		if port := os.Getenv("MQTT_PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.MQTTPort = p
			}
		}

		if user := os.Getenv("MQTT_USER"); user != "" {
			c.MQTTUser = user
		}

		if password := os.Getenv("MQTT_PASSWORD"); password != "" {
			c.MQTTPassword = password
		}

		if server := os.Getenv("NTP_SERVER"); server != "" {
			c.NTPServer = server
		}

		if pdpType := os.Getenv("PDP_TYPE"); pdpType != "" {
			c.PDPType = pdpType
		}

		if host := os.Getenv("CONFIG_HOST"); host != "" {
			c.ConfigHost = host
		}

		if path := os.Getenv("CONFIG_PATH"); path != "" {
			c.ConfigPath = path
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "trace":
				if b, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.Trace = b
				}
			case "read-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.ReadTimeout = d
				}
			case "gpio-chip":
				c.GPIOChip = f.Value.String()
			case "enable-line":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.EnableLine = n
				}
			case "dtr-line":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.DTRLine = n
				}
			case "sensor-id":
				c.SensorID = f.Value.String()
			case "sensor-name":
				c.SensorName = f.Value.String()
			case "reason":
				c.Reason = f.Value.String()
			case "mqtt-server":
				c.MQTTServer = f.Value.String()
			case "mqtt-port":
				if p, err := strconv.Atoi(f.Value.String()); err == nil {
					c.MQTTPort = p
				}
			case "mqtt-user":
				c.MQTTUser = f.Value.String()
			case "mqtt-password":
				c.MQTTPassword = f.Value.String()
			case "ntp-server":
				c.NTPServer = f.Value.String()
			case "pdp-type":
				c.PDPType = f.Value.String()
			case "config-host":
				c.ConfigHost = f.Value.String()
			case "config-path":
				c.ConfigPath = f.Value.String()
			}
		})
		return nil
	}
}
