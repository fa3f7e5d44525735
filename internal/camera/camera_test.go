package camera

import (
	"errors"
	"image"
	"strings"
	"testing"
	"time"
)

func TestParseDevice(t *testing.T) {
	if d := ParseDevice("2"); d.Index != 2 || d.Value() != 2 {
		t.Fatalf("unexpected numeric device: %+v", d)
	}
	d := ParseDevice("/dev/video4")
	if d.Index != -1 || d.Path != "/dev/video4" || d.Value() != "/dev/video4" {
		t.Fatalf("unexpected path device: %+v", d)
	}
	if !ParseDevice("synthetic").Synthetic() {
		t.Fatalf("synthetic device not recognised")
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs(ParseDevice("1"), 320, 240, 15, "linux"), " ")
	for _, want := range []string{"-f v4l2", "-i /dev/video1", "-video_size 320x240", "-framerate 15", "-pix_fmt rgba"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
	args = strings.Join(ffmpegArgs(ParseDevice("Integrated Camera"), 640, 480, 30, "windows"), " ")
	if !strings.Contains(args, "-f dshow -framerate 30") || !strings.Contains(args, "-i video=Integrated Camera") {
		t.Fatalf("unexpected windows args: %q", args)
	}
}

func TestSyntheticCameraLifecycle(t *testing.T) {
	cam := New(ParseDevice(SyntheticDevice), 64, 48, 10, nil)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if _, err := cam.Info(); !errors.Is(err, ErrCamera) {
		t.Fatalf("expected camera error before start, got %v", err)
	}

	if err := cam.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cam.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	frame, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Bounds() != image.Rect(0, 0, 64, 48) {
		t.Fatalf("unexpected bounds: %v", frame.Bounds())
	}
	next, _ := cam.ReadFrame()
	if string(next.Pix) == string(frame.Pix) {
		t.Fatalf("synthetic frames should move")
	}

	info, err := cam.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	keys := []string{"width", "height", "fps", "device_id"}
	for i, key := range keys {
		if info[i].Key != key {
			t.Fatalf("info key %d: got %q want %q", i, info[i].Key, key)
		}
	}
	if info[0].Value != 64 || info[3].Value != SyntheticDevice {
		t.Fatalf("unexpected info values: %+v", info)
	}

	cam.Stop()
	if cam.IsRunning() {
		t.Fatalf("camera still running after stop")
	}
	cam.Stop()
}

func TestStartFailureWrapsCameraError(t *testing.T) {
	old := FFmpegPath
	FFmpegPath = "moro-test-no-such-ffmpeg"
	defer func() { FFmpegPath = old }()

	cam := New(ParseDevice("0"), 32, 24, 5, nil)
	err := cam.Start()
	if !errors.Is(err, ErrCamera) {
		t.Fatalf("expected ErrCamera, got %v", err)
	}
	if cam.IsRunning() {
		t.Fatalf("camera should not be running after failed start")
	}
}

func TestMailboxKeepsLatest(t *testing.T) {
	m := newMailbox()
	a := image.NewRGBA(image.Rect(0, 0, 1, 1))
	b := image.NewRGBA(image.Rect(0, 0, 2, 2))
	m.put(a)
	m.put(b)
	if got := m.take(time.Millisecond); got != b {
		t.Fatalf("expected latest frame")
	}
	if m.dropped() != 1 {
		t.Fatalf("expected one drop, got %d", m.dropped())
	}
	if got := m.take(time.Millisecond); got != nil {
		t.Fatalf("expected empty mailbox")
	}
}
