package camera

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FFmpegPath is the binary used for capture.
var FFmpegPath = "ffmpeg"

const (
	bytesPerPixel     = 4
	firstFrameTimeout = 5 * time.Second
)

type ffmpegCapture struct {
	device Device
	width  int
	height int
	fps    int
	args   []string
	log    *slog.Logger

	cmd    *exec.Cmd
	stderr *syncWriter
	frames *mailbox

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

func newFFmpegCapture(device Device, width, height, fps int, logger *slog.Logger) *ffmpegCapture {
	return &ffmpegCapture{
		device:   device,
		width:    width,
		height:   height,
		fps:      fps,
		args:     defaultArgs(device, width, height, fps),
		log:      logger,
		frames:   newMailbox(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (fc *ffmpegCapture) start() error {
	fc.cmd = exec.Command(FFmpegPath, fc.args...)
	fc.stderr = &syncWriter{w: &bytes.Buffer{}}
	fc.cmd.Stderr = fc.stderr

	stdout, err := fc.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := fc.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	fc.log.Debug("ffmpeg started", "args", strings.Join(fc.args, " "))

	go fc.readFrames(stdout)

	timer := time.NewTimer(firstFrameTimeout)
	defer timer.Stop()
	select {
	case frame := <-fc.frames.ch:
		fc.frames.put(frame)
		return nil
	case <-fc.done:
	case <-timer.C:
	}
	fc.stop()
	if err := fc.failure(); err != nil {
		return err
	}
	return fmt.Errorf("failed to open camera with device_id=%s", fc.device)
}

func (fc *ffmpegCapture) readFrames(stdout io.ReadCloser) {
	defer close(fc.done)
	defer stdout.Close()

	frameSize := fc.width * fc.height * bytesPerPixel
	buffer := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(stdout, buffer); err != nil {
			select {
			case <-fc.stopChan:
			default:
				fc.setFailure(fmt.Errorf("read error: %v: %s", err, strings.TrimSpace(fc.stderrText())))
			}
			return
		}
		pix := make([]byte, frameSize)
		copy(pix, buffer)
		fc.frames.put(&image.RGBA{
			Pix:    pix,
			Stride: fc.width * bytesPerPixel,
			Rect:   image.Rect(0, 0, fc.width, fc.height),
		})
	}
}

func (fc *ffmpegCapture) read() (*image.RGBA, error) {
	if err := fc.failure(); err != nil {
		return nil, err
	}
	return fc.frames.take(frameWait(fc.fps)), nil
}

func (fc *ffmpegCapture) close() error {
	fc.stop()
	if d := fc.frames.dropped(); d > 0 {
		fc.log.Debug("capture dropped frames", "dropped", d)
	}
	return nil
}

func (fc *ffmpegCapture) stop() {
	fc.stopOnce.Do(func() {
		close(fc.stopChan)
		if fc.cmd != nil && fc.cmd.Process != nil {
			_ = fc.cmd.Process.Kill()
			_ = fc.cmd.Wait()
		}
	})
}

func (fc *ffmpegCapture) setFailure(err error) {
	fc.errMu.Lock()
	defer fc.errMu.Unlock()
	if fc.err == nil {
		fc.err = err
	}
}

func (fc *ffmpegCapture) failure() error {
	fc.errMu.Lock()
	defer fc.errMu.Unlock()
	return fc.err
}

func (fc *ffmpegCapture) stderrText() string {
	if fc.stderr == nil {
		return ""
	}
	return fc.stderr.String()
}

// frameWait is how long a read waits for a fresh frame: two frame periods.
func frameWait(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return 2 * time.Second / time.Duration(fps)
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w.Len() > 4096 {
		return len(p), nil
	}
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.String()
}
