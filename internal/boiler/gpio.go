//go:build linux

package boiler

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOOutput drives the boiler call relay through a GPIO line.
type GPIOOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewGPIOOutput opens the named chip (e.g. "gpiochip0") and requests the
// given line as an output, initially deasserted.
func NewGPIOOutput(chipName string, pin int) (*GPIOOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request gpio line %d: %w", pin, err)
	}

	return &GPIOOutput{chip: chip, line: line}, nil
}

// Set drives the line high for on, low for off.
func (g *GPIOOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := g.line.SetValue(v); err != nil {
		return fmt.Errorf("set gpio value: %w", err)
	}
	return nil
}

// Close deasserts the line and releases the chip.
func (g *GPIOOutput) Close() error {
	// Leave the boiler off whatever state we exit in.
	_ = g.line.SetValue(0)
	g.line.Reconfigure(gpiocdev.AsInput)
	if err := g.line.Close(); err != nil {
		return fmt.Errorf("close gpio line: %w", err)
	}
	if err := g.chip.Close(); err != nil {
		return fmt.Errorf("close gpio chip: %w", err)
	}
	return nil
}
