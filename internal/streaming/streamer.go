// Package streaming runs the paced capture → process → emit loop.
package streaming

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"moro/internal/camera"
	"moro/internal/processing"
	"moro/internal/types"
)

// Camera is the part of camera.Camera the streamer needs.
type Camera interface {
	IsRunning() bool
	Start() error
	ReadFrame() (*image.RGBA, error)
	Info() (types.Info, error)
}

type Emitter interface {
	EmitFrame(frame image.Image) error
	EmitCameraInfo(info types.Info)
	// Quality is the JPEG quality frames are actually encoded with.
	Quality() int
}

type Options struct {
	FPS           int
	Preload       bool
	StatsInterval time.Duration
	// OnStats receives the figures that are logged every StatsInterval.
	OnStats func(types.StreamStats)
}

type Streamer struct {
	cam  Camera
	proc processing.Processor
	emit Emitter
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	warmupReads int
	warmupDelay time.Duration
}

func New(cam Camera, proc processing.Processor, emit Emitter, opts Options, logger *slog.Logger) *Streamer {
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		cam:         cam,
		proc:        proc,
		emit:        emit,
		opts:        opts,
		log:         logger.With("component", "streamer"),
		warmupReads: 3,
		warmupDelay: 100 * time.Millisecond,
	}
}

func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start ensures the camera runs, seeds the emitter cache when preloading is
// enabled and launches the streaming loop.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.log.Warn("streaming is already active")
		return nil
	}

	if !s.cam.IsRunning() {
		s.log.Info("starting camera for streaming")
		if err := s.cam.Start(); err != nil {
			return err
		}
	}

	if s.opts.Preload {
		s.preload()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.active = true
	go s.run(loopCtx, s.done)
	return nil
}

func (s *Streamer) preload() {
	s.log.Info("preloading initial frame")
	// a few reads let auto exposure settle
	for i := 0; i < s.warmupReads; i++ {
		if _, err := s.cam.ReadFrame(); err != nil {
			s.log.Error("error preloading initial frame", "error", err)
			return
		}
		time.Sleep(s.warmupDelay)
	}
	frame, err := s.cam.ReadFrame()
	if err != nil {
		s.log.Error("error preloading initial frame", "error", err)
		return
	}
	if frame == nil {
		s.log.Warn("failed to capture initial frame")
		return
	}
	processed := s.proc.Process(frame)
	if processed == nil {
		s.log.Warn("failed to process initial frame")
		return
	}
	if err := s.emit.EmitFrame(processed); err != nil {
		s.log.Error("error preloading initial frame", "error", err)
		return
	}
	s.log.Info("initial frame preloaded")
}

// Stop halts the loop and waits for it to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		s.log.Warn("streaming is not active")
		return
	}
	s.log.Info("stopping camera streamer")
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("streaming loop did not exit in time")
	}
	s.log.Info("camera streamer stopped")
}

// Done is closed when the loop exits, Err then reports why.
func (s *Streamer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Streamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Streamer) run(ctx context.Context, done chan struct{}) {
	var loopErr error
	defer func() {
		s.mu.Lock()
		s.active = false
		s.err = loopErr
		s.mu.Unlock()
		close(done)
	}()

	s.log.Info("frame streaming started")
	s.emitInfo()

	interval := time.Second / time.Duration(s.opts.FPS)
	frameCount := 0
	var sent uint64
	lastLog := time.Now()

	for {
		start := time.Now()
		frame, err := s.cam.ReadFrame()
		if err != nil {
			s.log.Error("error reading frame", "error", err)
			loopErr = err
			return
		}
		if frame != nil {
			if processed := s.proc.Process(frame); processed != nil {
				if err := s.emit.EmitFrame(processed); err != nil {
					s.log.Error("unexpected error in streaming loop", "error", err)
					loopErr = err
					return
				}
				frameCount++
				sent++
				if elapsed := time.Since(lastLog); elapsed >= s.opts.StatsInterval {
					s.report(frameCount, elapsed, sent)
					frameCount = 0
					lastLog = time.Now()
				}
			}
		}

		wait := interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			s.log.Info("frame streaming stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (s *Streamer) report(frames int, elapsed time.Duration, sent uint64) {
	stats := types.StreamStats{
		FPS:             float64(frames) / elapsed.Seconds(),
		FramesSent:      sent,
		LastChangeRatio: s.proc.LastChangeRatio(),
		SkippedFrames:   s.proc.SkippedFrames(),
	}
	attrs := []any{"fps", fmt.Sprintf("%.1f", stats.FPS), "motion_ratio", fmt.Sprintf("%.6f", stats.LastChangeRatio)}
	if stats.SkippedFrames > 0 {
		attrs = append(attrs, "skipped", stats.SkippedFrames)
	}
	s.log.Info("streaming", attrs...)
	if s.opts.OnStats != nil {
		s.opts.OnStats(stats)
	}
}

func (s *Streamer) emitInfo() {
	info, err := s.cam.Info()
	if err != nil {
		s.log.Error("failed to get camera info", "error", err)
		return
	}
	s.emit.EmitCameraInfo(info.Merge(s.Config()))
}

// Config describes the stream settings appended to camera info.
func (s *Streamer) Config() types.Info {
	info := types.Info{{Key: "stream_fps", Value: s.opts.FPS}}
	if p, ok := s.proc.(*processing.DefaultProcessor); ok {
		o := p.Options()
		resolution := "Original"
		if o.Resize() {
			resolution = fmt.Sprintf("(%d, %d)", o.Width, o.Height)
		}
		var threshold, maxSkip any = "N/A", "N/A"
		if o.MotionDetection {
			threshold, maxSkip = o.MotionThreshold, o.MotionMaxSkip
		}
		info = append(info,
			types.Field{Key: "stream_resolution", Value: resolution},
			types.Field{Key: "stream_grayscale", Value: o.Grayscale},
			types.Field{Key: "stream_motion_detection", Value: o.MotionDetection},
			types.Field{Key: "stream_motion_threshold", Value: threshold},
			types.Field{Key: "stream_motion_max_skip", Value: maxSkip},
		)
	}
	return append(info, types.Field{Key: "stream_quality", Value: s.emit.Quality()})
}

var _ Camera = (*camera.Camera)(nil)
