// Package camera opens a capture device and hands out RGBA frames.
package camera

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

var (
	ErrCamera     = errors.New("camera error")
	ErrNotRunning = fmt.Errorf("%w: camera is not running", ErrCamera)
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// source is a capture backend. read returns (nil, nil) when no frame is
// available yet.
type source interface {
	start() error
	read() (*image.RGBA, error)
	close() error
}

type Camera struct {
	Device Device
	Width  int
	Height int
	FPS    int

	log *slog.Logger

	mu      sync.Mutex
	src     source
	running bool
	open    func(*Camera) source
}

func New(device Device, width, height, fps int, logger *slog.Logger) *Camera {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("initializing camera", "device", device.String(), "width", width, "height", height, "fps", fps)
	return &Camera{
		Device: device,
		Width:  width,
		Height: height,
		FPS:    fps,
		log:    logger.With("component", "camera"),
		open:   openSource,
	}
}

func openSource(c *Camera) source {
	if c.Device.Synthetic() {
		return newSynthetic(c.Width, c.Height)
	}
	return newFFmpegCapture(c.Device, c.Width, c.Height, c.FPS, c.log)
}

func (c *Camera) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start opens the device. Starting a running camera only logs a warning.
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.log.Warn("camera is already running")
		return nil
	}
	c.log.Info("starting camera", "device", c.Device.String())
	src := c.open(c)
	if err := src.start(); err != nil {
		_ = src.close()
		return fmt.Errorf("%w: error starting camera %s: %v", ErrCamera, c.Device, err)
	}
	c.src = src
	c.running = true
	return nil
}

func (c *Camera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.src == nil {
		c.log.Warn("camera is not running")
		return
	}
	c.log.Info("stopping camera")
	if err := c.src.close(); err != nil {
		c.log.Debug("camera close", "error", err)
	}
	c.src = nil
	c.running = false
}

// ReadFrame returns the next frame, or nil without error when the device
// produced nothing in time.
func (c *Camera) ReadFrame() (*image.RGBA, error) {
	c.mu.Lock()
	src, running := c.src, c.running
	c.mu.Unlock()
	if !running || src == nil {
		return nil, ErrNotRunning
	}
	frame, err := src.read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCamera, err)
	}
	if frame == nil {
		c.log.Warn("failed to read frame from camera")
	}
	return frame, nil
}

// Info describes the opened device: width, height, fps and device_id.
func (c *Camera) Info() (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil, ErrNotRunning
	}
	return Info{
		{Key: "width", Value: c.Width},
		{Key: "height", Value: c.Height},
		{Key: "fps", Value: c.FPS},
		{Key: "device_id", Value: c.Device.Value()},
	}, nil
}
