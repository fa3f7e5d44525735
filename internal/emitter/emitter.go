// Package emitter encodes processed frames and fans stream events out to
// the configured sinks, keeping the latest frame and camera info for
// clients that connect later.
package emitter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"

	"moro/internal/types"
)

const DefaultQuality = 70

// Sink receives every emitted event.
type Sink interface {
	Publish(ev types.Event) error
}

type SinkFunc func(ev types.Event) error

func (f SinkFunc) Publish(ev types.Event) error { return f(ev) }

type namedSink struct {
	name string
	sink Sink
}

type Emitter struct {
	quality int
	log     *slog.Logger

	mu     sync.RWMutex
	sinks  []namedSink
	frame  string
	info   types.Info
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func New(quality int, logger *slog.Logger) *Emitter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{quality: quality, log: logger.With("component", "emitter")}
}

func (e *Emitter) Quality() int { return e.quality }

func (e *Emitter) AddSink(name string, sink Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, namedSink{name: name, sink: sink})
	e.mu.Unlock()
}

// EmitFrame encodes the frame as JPEG, caches the base64 form and publishes it.
func (e *Emitter) EmitFrame(frame image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: e.quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	e.mu.Lock()
	e.frame = b64
	e.mu.Unlock()
	e.frames.Add(1)
	e.bytes.Add(uint64(buf.Len()))
	e.publish(types.FrameEvent(b64))
	return nil
}

func (e *Emitter) EmitCameraInfo(info types.Info) {
	info = info.Clone()
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
	e.publish(types.InfoEvent(info))
}

func (e *Emitter) publish(ev types.Event) {
	e.mu.RLock()
	sinks := append([]namedSink(nil), e.sinks...)
	e.mu.RUnlock()
	for _, s := range sinks {
		if err := s.sink.Publish(ev); err != nil {
			e.log.Warn("sink publish failed", "sink", s.name, "event", ev.Type, "error", err)
		}
	}
}

// CachedFrame is the last emitted frame as base64 JPEG, empty before the first.
func (e *Emitter) CachedFrame() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frame
}

func (e *Emitter) CameraInfo() types.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info.Clone()
}

func (e *Emitter) Counters() (frames, size uint64) {
	return e.frames.Load(), e.bytes.Load()
}
