package modem

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"
)

//go:generate go tool mockgen -source=hal.go -destination=mock_hal.go -package=modem

// Pin is a digital output line. machine.Pin satisfies it on TinyGo targets.
//
// Get must report the level currently driven on the line: the modem power
// state is derived from it rather than tracked separately.
type Pin interface {
	High()
	Low()
	Get() bool
}

// LatchPin is a software-only Pin for modems whose enable line is hard-wired
// or driven by other hardware. It remembers the last level written.
type LatchPin struct {
	level bool
}

func (p *LatchPin) High()     { p.level = true }
func (p *LatchPin) Low()      { p.level = false }
func (p *LatchPin) Get() bool { return p.level }

// GPIOPin drives a Linux GPIO character-device line.
type GPIOPin struct {
	line   *gpiocdev.Line
	logger *slog.Logger
}

// OpenGPIOPin requests offset on chip (e.g. "gpiochip0") as an output,
// initially low.
func OpenGPIOPin(chip string, offset int, consumer string, logger *slog.Logger) (*GPIOPin, error) {
	if logger == nil {
		logger = slog.Default()
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("request GPIO line %s:%d: %w", chip, offset, err)
	}
	return &GPIOPin{
		line:   line,
		logger: logger.With("chip", chip, "line", offset),
	}, nil
}

func (p *GPIOPin) High() { p.set(1) }
func (p *GPIOPin) Low()  { p.set(0) }

func (p *GPIOPin) set(v int) {
	if err := p.line.SetValue(v); err != nil {
		p.logger.Error("failed to set GPIO line", "value", v, "error", err)
	}
}

// Get reads back the level requested on the line.
func (p *GPIOPin) Get() bool {
	v, err := p.line.Value()
	if err != nil {
		p.logger.Error("failed to read GPIO line", "error", err)
		return false
	}
	return v == 1
}

// Close releases the line.
func (p *GPIOPin) Close() error {
	return p.line.Close()
}
