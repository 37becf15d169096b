package display

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"
)

// panel is the subset of the waveshare driver used here
type panel interface {
	Init() error
	Clear(color.Color) error
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Sleep() error
	Halt() error
	Bounds() image.Rectangle
}

// EPaper renders to a Waveshare 2.13" V4 HAT. The panel is put to sleep
// after each refresh and keeps its image without power.
type EPaper struct {
	dev      panel
	port     spi.PortCloser
	loc      *time.Location
	logger   *zap.Logger
	sleeping bool
}

func OpenEPaper(loc *time.Location, logger *zap.Logger) (*EPaper, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open spi port: %w", err)
	}

	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(port, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("open e-paper hat: %w", err)
	}

	e := &EPaper{dev: dev, port: port, loc: loc, logger: logger}
	if err := dev.Init(); err != nil {
		e.Close()
		return nil, fmt.Errorf("init e-paper: %w", err)
	}
	if err := dev.Clear(color.White); err != nil {
		e.Close()
		return nil, fmt.Errorf("clear e-paper: %w", err)
	}
	return e, nil
}

func (e *EPaper) Render(_ context.Context, state models.FeedingState, stale bool) error {
	if e.sleeping {
		if err := e.dev.Init(); err != nil {
			return fmt.Errorf("wake e-paper: %w", err)
		}
		e.sleeping = false
	}

	portrait := toPortrait(Compose(state, stale, e.loc))
	img := image1bit.NewVerticalLSB(e.dev.Bounds())
	draw.Draw(img, img.Bounds(), portrait, image.Point{}, draw.Src)

	if err := e.dev.Draw(e.dev.Bounds(), img, image.Point{}); err != nil {
		return fmt.Errorf("draw e-paper: %w", err)
	}
	if err := e.dev.Sleep(); err != nil {
		e.logger.Warn("E-paper sleep failed", zap.Error(err))
		return nil
	}
	e.sleeping = true

	e.logger.Info("Display refreshed",
		zap.Uint64("generation", state.Generation),
		zap.Bool("stale", stale))
	return nil
}

func (e *EPaper) Close() error {
	err := e.dev.Halt()
	if cerr := e.port.Close(); err == nil {
		err = cerr
	}
	return err
}
