package display

import (
	"context"
	"fmt"
	"strings"

	"feedwatch/models"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ledPair is a window's green and optional red LED
type ledPair struct {
	green gpio.PinOut
	red   gpio.PinOut
}

// GPIOIndicator drives status LEDs on header pins. Each window is given as
// "GREEN" or "GREEN,RED" pin names.
type GPIOIndicator struct {
	leds map[models.WindowName]ledPair
}

func OpenGPIOIndicator(morningPins, eveningPins string) (*GPIOIndicator, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	morning, err := openPair(morningPins)
	if err != nil {
		return nil, fmt.Errorf("morning led: %w", err)
	}
	evening, err := openPair(eveningPins)
	if err != nil {
		return nil, fmt.Errorf("evening led: %w", err)
	}

	return &GPIOIndicator{
		leds: map[models.WindowName]ledPair{
			models.Morning: morning,
			models.Evening: evening,
		},
	}, nil
}

func openPair(spec string) (ledPair, error) {
	names := strings.Split(spec, ",")
	var pair ledPair
	for i, name := range names {
		name = strings.TrimSpace(name)
		p := gpioreg.ByName(name)
		if p == nil {
			return ledPair{}, fmt.Errorf("unknown pin %q", name)
		}
		if i == 0 {
			pair.green = p
		} else {
			pair.red = p
		}
	}
	return pair, nil
}

func (g *GPIOIndicator) SetIndicator(_ context.Context, window models.WindowName, fed bool) error {
	pair, ok := g.leds[window]
	if !ok {
		return fmt.Errorf("no led for window %s", window)
	}
	return pair.set(gpio.Level(fed), gpio.Level(!fed))
}

func (g *GPIOIndicator) Off(_ context.Context) error {
	for w, pair := range g.leds {
		if err := pair.set(gpio.Low, gpio.Low); err != nil {
			return fmt.Errorf("%s led: %w", w, err)
		}
	}
	return nil
}

func (p ledPair) set(green, red gpio.Level) error {
	if err := p.green.Out(green); err != nil {
		return err
	}
	if p.red == nil {
		return nil
	}
	return p.red.Out(red)
}
