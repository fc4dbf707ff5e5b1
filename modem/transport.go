package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"tinygo.org/x/drivers"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to the
// cellular modem.
//
// A Transport is assumed to be already connected and ready for use. Reads
// are expected to give up after a per-read timeout: a Read that returns
// (0, nil) or io.EOF means the timeout elapsed with no data. Serial ports
// opened by SerialDialer behave this way once a read timeout is set.
// Typical implementations include serial ports, TinyGo UARTs, or in-memory
// fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to the modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, a microcontroller UART, or test double) and is intended to be
// used during modem construction only. Once a Transport is obtained, the
// Dialer is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// readTimeoutSetter is implemented by transports whose per-read timeout can
// be adjusted; serial.Port is one of them.
type readTimeoutSetter interface {
	SetReadTimeout(t time.Duration) error
}

// DefaultBaudRate is the factory UART speed of SIM7020-class modems.
const DefaultBaudRate = 115200

// SerialDialer opens the modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyAMA0".
	PortName string
	// BaudRate is used when Mode is nil. Zero means DefaultBaudRate.
	BaudRate int
	// Mode overrides the default 8N1 framing.
	Mode *serial.Mode
}

// Dial opens the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", d.PortName, err)
	}
	return port, nil
}

// UARTDialer wraps a microcontroller UART, such as machine.UART1 on TinyGo.
type UARTDialer struct {
	UART drivers.UART
	// ReadTimeout is the initial per-read timeout; Modem replaces it with
	// Config.ReadTimeout.
	ReadTimeout time.Duration
}

// Dial returns a Transport polling the UART receive buffer.
func (d UARTDialer) Dial(ctx context.Context) (Transport, error) {
	if d.UART == nil {
		return nil, errors.New("modem: UART is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &uartTransport{uart: d.UART, timeout: timeout}, nil
}

// uartTransport gives a non-blocking UART the timed-read behaviour the line
// reader relies on.
type uartTransport struct {
	uart    drivers.UART
	timeout time.Duration
}

func (u *uartTransport) SetReadTimeout(t time.Duration) error {
	u.timeout = t
	return nil
}

func (u *uartTransport) Read(p []byte) (int, error) {
	deadline := time.Now().Add(u.timeout)
	for u.uart.Buffered() == 0 {
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
	return u.uart.Read(p)
}

func (u *uartTransport) Write(p []byte) (int, error) {
	return u.uart.Write(p)
}

// Close is a no-op: the UART belongs to the board.
func (u *uartTransport) Close() error {
	return nil
}

// tracedTransport routes reads and writes through a tracer while keeping the
// underlying Close.
type tracedTransport struct {
	io.ReadWriter
	closer io.Closer
}

func (t tracedTransport) Close() error {
	return t.closer.Close()
}
