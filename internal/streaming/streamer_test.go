package streaming

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"moro/internal/camera"
	"moro/internal/emitter"
	"moro/internal/processing"
	"moro/internal/types"
)

type recordingEmitter struct {
	mu      sync.Mutex
	frames  int
	infos   []types.Info
	quality int
}

func (r *recordingEmitter) Quality() int { return r.quality }

func (r *recordingEmitter) EmitFrame(image.Image) error {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) EmitCameraInfo(info types.Info) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

func (r *recordingEmitter) counts() (int, []types.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, append([]types.Info(nil), r.infos...)
}

type failingCamera struct {
	reads int
}

func (f *failingCamera) IsRunning() bool { return true }
func (f *failingCamera) Start() error    { return nil }
func (f *failingCamera) Info() (types.Info, error) {
	return types.Info{{Key: "width", Value: 1}}, nil
}
func (f *failingCamera) ReadFrame() (*image.RGBA, error) {
	f.reads++
	if f.reads > 2 {
		return nil, camera.ErrNotRunning
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamerEmitsInfoAndFrames(t *testing.T) {
	cam := camera.New(camera.ParseDevice(camera.SyntheticDevice), 32, 24, 30, nil)
	proc := processing.NewDefault(processing.Options{Width: 16, Height: 12}, nil)
	emit := &recordingEmitter{quality: 70}
	var stats []types.StreamStats
	var statsMu sync.Mutex
	s := New(cam, proc, emit, Options{
		FPS:           100,
		Preload:       true,
		StatsInterval: 20 * time.Millisecond,
		OnStats: func(st types.StreamStats) {
			statsMu.Lock()
			stats = append(stats, st)
			statsMu.Unlock()
		},
	}, nil)
	s.warmupDelay = 0

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !cam.IsRunning() {
		t.Fatalf("streamer should start the camera")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start should only warn: %v", err)
	}

	waitFor(t, func() bool {
		frames, infos := emit.counts()
		statsMu.Lock()
		defer statsMu.Unlock()
		return frames >= 5 && len(infos) == 1 && len(stats) > 0
	})
	s.Stop()
	if s.Active() {
		t.Fatalf("streamer still active after stop")
	}

	_, infos := emit.counts()
	info := infos[0]
	if info[0].Key != "width" || info[0].Value != 32 {
		t.Fatalf("camera fields should come first: %+v", info)
	}
	if v, _ := info.Get("stream_resolution"); v != "(16, 12)" {
		t.Fatalf("unexpected stream_resolution: %v", v)
	}
	if v, _ := info.Get("stream_motion_threshold"); v != "N/A" {
		t.Fatalf("unexpected stream_motion_threshold: %v", v)
	}
	if v, _ := info.Get("stream_quality"); v != 70 {
		t.Fatalf("unexpected stream_quality: %v", v)
	}
	statsMu.Lock()
	if stats[0].FramesSent == 0 {
		t.Fatalf("stats should count sent frames")
	}
	statsMu.Unlock()
}

func TestStreamerStopsOnCameraError(t *testing.T) {
	emit := &recordingEmitter{}
	s := New(&failingCamera{}, processing.NewDefault(processing.Options{}, nil), emit, Options{FPS: 200}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("loop did not stop on camera error")
	}
	if !errors.Is(s.Err(), camera.ErrCamera) {
		t.Fatalf("expected camera error, got %v", s.Err())
	}
	if frames, _ := emit.counts(); frames != 2 {
		t.Fatalf("unexpected frame count: %d", frames)
	}
	if s.Active() {
		t.Fatalf("streamer should be inactive after failure")
	}
	s.Stop()
}

func TestConfigMotionFields(t *testing.T) {
	proc := processing.NewDefault(processing.Options{MotionDetection: true, MotionThreshold: 0.01, MotionMaxSkip: 5, Grayscale: true}, nil)
	s := New(&failingCamera{}, proc, &recordingEmitter{quality: 55}, Options{FPS: 15}, nil)
	cfg := s.Config()
	want := []string{"stream_fps", "stream_resolution", "stream_grayscale", "stream_motion_detection", "stream_motion_threshold", "stream_motion_max_skip", "stream_quality"}
	if len(cfg) != len(want) {
		t.Fatalf("unexpected field count: %+v", cfg)
	}
	for i, key := range want {
		if cfg[i].Key != key {
			t.Fatalf("field %d: got %q want %q", i, cfg[i].Key, key)
		}
	}
	if cfg[1].Value != "Original" || cfg[4].Value != 0.01 || cfg[5].Value != 5 || cfg[6].Value != 55 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}

func TestConfigReportsEncoderQuality(t *testing.T) {
	proc := processing.NewDefault(processing.Options{}, nil)
	for _, requested := range []int{150, 0} {
		s := New(&failingCamera{}, proc, emitter.New(requested, nil), Options{FPS: 15}, nil)
		got, ok := s.Config().Get("stream_quality")
		if !ok || got != emitter.DefaultQuality {
			t.Fatalf("quality %d: stream_quality %v (present %v), want %d", requested, got, ok, emitter.DefaultQuality)
		}
	}
}
