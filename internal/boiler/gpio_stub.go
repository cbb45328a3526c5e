//go:build !linux

package boiler

import "errors"

// GPIOOutput is only available on Linux, where the character device GPIO
// interface exists.
type GPIOOutput struct{}

func NewGPIOOutput(chipName string, pin int) (*GPIOOutput, error) {
	return nil, errors.New("gpio boiler output requires linux")
}

func (g *GPIOOutput) Set(on bool) error { return errors.New("gpio boiler output requires linux") }

func (g *GPIOOutput) Close() error { return nil }
