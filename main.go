package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stuffa/envsensor/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyAMA0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP control API")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Bool("trace", false, "Log raw modem traffic at debug level")
	flag.Duration("read-timeout", time.Second, "Per-read timeout on the serial port")
	flag.String("gpio-chip", "", "GPIO chip driving the modem enable line (empty if hard-wired)")
	flag.Int("enable-line", 14, "GPIO line of the modem enable pin")
	flag.Int("dtr-line", -1, "GPIO line of the modem DTR pin (-1 if not connected)")
	flag.String("sensor-id", "envsensor", "Sensor id used in topics and as MQTT client id")
	flag.String("sensor-name", "PicoSensor", "Sensor name reported at start")
	flag.String("reason", "PowerOn", "Start reason reported by the report command")
	flag.String("mqtt-server", "", "MQTT broker host")
	flag.Int("mqtt-port", 1883, "MQTT broker port")
	flag.String("mqtt-user", "", "MQTT user name")
	flag.String("mqtt-password", "", "MQTT password")
	flag.String("ntp-server", "au.pool.ntp.org", "SNTP server used by the time command")
	flag.String("pdp-type", "", "PDP type applied on factory reset (e.g. IP, IPV6, Non-IP)")
	flag.String("config-host", "", "Host serving the remote sensor configuration")
	flag.String("config-path", "/api/sensors/", "Path the sensor id is appended to")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <command> [args]\n", os.Args[0])
		flag.PrintDefaults()
		Usage(flag.CommandLine.Output())
	}
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, release, err := openModem(ctx, config, logger)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	runner := &Runner{
		Modem:  m,
		Config: config,
		Logger: logger,
		In:     os.Stdin,
		Out:    os.Stdout,
		Serve: func(ctx context.Context) error {
			return serve(ctx, config.BindAddress, &Server{
				Logger: logger.With("component", "server"),
				Modem:  m,
			}, logger)
		},
	}

	err = runner.Run(ctx, flag.Args())
	release()
	if err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openModem opens the serial port and control lines. release powers the
// modem down and frees everything that was opened.
func openModem(ctx context.Context, config *Config, logger *slog.Logger) (*modem.Modem, func(), error) {
	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Failed to release resource", "error", err)
			}
		}
	}

	builder := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithLogger(logger.With("component", "modem")).
		WithTrace(config.Trace).
		WithReadTimeout(config.ReadTimeout).
		WithBroker(brokerFromConfig(config)).
		WithNTPServer(config.NTPServer).
		WithPDPType(config.PDPType)

	if config.GPIOChip == "" {
		builder.WithEnablePin(&modem.LatchPin{})
	} else {
		enable, err := modem.OpenGPIOPin(config.GPIOChip, config.EnableLine, "envsensor-enable", logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, enable.Close)
		builder.WithEnablePin(enable)

		if config.DTRLine >= 0 {
			dtr, err := modem.OpenGPIOPin(config.GPIOChip, config.DTRLine, "envsensor-dtr", logger)
			if err != nil {
				release()
				return nil, nil, err
			}
			closers = append(closers, dtr.Close)
			builder.WithDTRPin(dtr)
		}
	}

	modemConfig, err := builder.Build()
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		release()
		return nil, nil, err
	}
	closers = append(closers, func() error {
		m.GotoSleep()
		return m.Close()
	})
	return m, release, nil
}

func brokerFromConfig(config *Config) modem.MQTTBroker {
	broker := modem.DefaultMQTTBroker()
	broker.Server = config.MQTTServer
	broker.Port = config.MQTTPort
	broker.ClientID = config.SensorID
	broker.User = config.MQTTUser
	broker.Password = config.MQTTPassword
	return broker
}

// serve runs the control API until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
