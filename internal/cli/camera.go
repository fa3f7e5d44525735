package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"moro/internal/camera"
	"moro/internal/config"
	"moro/internal/emitter"
	"moro/internal/output"
	"moro/internal/processing"
	"moro/internal/server"
	"moro/internal/streaming"
	"moro/internal/telemetry"
	"moro/internal/types"
	"moro/internal/viewer"
	"moro/internal/wire"
	"moro/internal/zmqlink"
)

func cameraCommand() *Command {
	return &Command{
		Name:  "camera",
		Short: "Camera control and streaming commands.",
		Subcommands: []*Command{
			{Name: "dump", Short: "Print records of a recorded stream.", Run: runDump},
			{Name: "info", Short: "Show information about connected camera.", Run: runInfo},
			{Name: "stream", Short: "Start camera streaming server.", Run: runStream},
			{Name: "view", Short: "Watch a running stream from the terminal.", Run: runView},
		},
	}
}

// parseStreamFlags turns `camera stream` arguments into a StreamConfig.
func parseStreamFlags(env *Env, args []string) (config.StreamConfig, error) {
	cfg := config.DefaultStream()
	var (
		resolution string
		noPreload  bool
	)
	fs := newFlagSet("camera stream", env)
	fs.StringVar(&cfg.Device, "device", cfg.Device, "Camera device ID or path, or \"synthetic\"")
	fs.StringVar(&cfg.Device, "d", cfg.Device, "shorthand for --device")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Frame width in pixels")
	fs.IntVar(&cfg.Width, "w", cfg.Width, "shorthand for --width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Frame height in pixels")
	fs.IntVar(&cfg.Height, "h", cfg.Height, "shorthand for --height")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "Target FPS for streaming")
	fs.IntVar(&cfg.FPS, "f", cfg.FPS, "shorthand for --fps")
	fs.IntVar(&cfg.Quality, "quality", cfg.Quality, "JPEG compression quality 0-100")
	fs.IntVar(&cfg.Quality, "q", cfg.Quality, "shorthand for --quality")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server to")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to run the server on")
	fs.IntVar(&cfg.Port, "p", cfg.Port, "shorthand for --port")
	fs.StringVar(&resolution, "stream-resolution", "", "Resize frames to WxH before streaming, e.g. 320x240")
	fs.BoolVar(&cfg.Grayscale, "grayscale", false, "Convert frames to grayscale to reduce bandwidth")
	fs.BoolVar(&cfg.Motion, "motion-detection", false, "Skip frames while the scene is static")
	fs.Float64Var(&cfg.MotionThresh, "motion-threshold", cfg.MotionThresh, "Changed pixel ratio below which a frame is skipped (0.0-1.0)")
	fs.IntVar(&cfg.MotionMaxSkip, "motion-max-skip", cfg.MotionMaxSkip, "Maximum number of consecutive frames to skip")
	fs.BoolVar(&noPreload, "no-preload", false, "Do not seed the frame cache before serving")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Interval between stream statistics reports")
	fs.IntVar(&cfg.BroadcastQueue, "broadcast-queue", cfg.BroadcastQueue, "Events buffered for websocket clients before dropping")
	fs.StringVar(&cfg.RecordDir, "record-dir", "", "Record every emitted event to a raw log in this directory")
	fs.StringVar(&cfg.ZMQPublish, "zmq-publish", "", "Also publish events on this ZeroMQ endpoint, e.g. tcp://*:5556")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", "", "Publish camera info and stats to this MQTT broker")
	fs.StringVar(&cfg.MQTTPrefix, "mqtt-prefix", cfg.MQTTPrefix, "MQTT topic prefix")
	if err := parseFlags(fs, args); err != nil {
		return cfg, err
	}
	cfg.Preload = !noPreload
	if resolution != "" {
		w, h, err := parseResolution(resolution)
		if err != nil {
			return cfg, &usageError{kind: ErrUsage, msg: err.Error()}
		}
		cfg.ResizeWidth, cfg.ResizeHeight = w, h
	}
	if cfg.MotionThresh < 0 || cfg.MotionThresh > 1 {
		return cfg, &usageError{kind: ErrUsage, msg: fmt.Sprintf("motion threshold %v out of range 0.0-1.0", cfg.MotionThresh)}
	}
	return cfg, nil
}

// parseResolution accepts "WxH" and "W,H".
func parseResolution(s string) (int, int, error) {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == 'x' || r == ','
	})
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid stream resolution %q, expected WxH", s)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid stream resolution %q, expected WxH", s)
	}
	return w, h, nil
}

func runStream(ctx context.Context, env *Env, args []string) error {
	cfg, err := parseStreamFlags(env, args)
	if err != nil {
		return err
	}
	return stream(ctx, env, cfg)
}

func stream(ctx context.Context, env *Env, cfg config.StreamConfig) error {
	log := env.Log
	device := camera.ParseDevice(cfg.Device)
	log.Info("initializing camera", "device", device.String())
	cam := camera.New(device, cfg.Width, cfg.Height, cfg.FPS, log)
	defer cam.Stop()

	fmt.Fprintf(env.Stdout, "Starting camera streaming server at http://%s\n", cfg.Addr())
	fmt.Fprintln(env.Stdout, "Press Ctrl+C to stop the server")
	if cfg.HasResize() {
		fmt.Fprintf(env.Stdout, "Streaming resolution: %dx%d\n", cfg.ResizeWidth, cfg.ResizeHeight)
	}
	if cfg.Grayscale {
		fmt.Fprintln(env.Stdout, "Grayscale mode enabled")
	}
	if cfg.Motion {
		fmt.Fprintf(env.Stdout, "Motion detection enabled (threshold: %v, max consecutive skips: %d)\n",
			cfg.MotionThresh, cfg.MotionMaxSkip)
	}

	proc := processing.NewDefault(processing.Options{
		Width:           cfg.ResizeWidth,
		Height:          cfg.ResizeHeight,
		Grayscale:       cfg.Grayscale,
		MotionDetection: cfg.Motion,
		MotionThreshold: cfg.MotionThresh,
		MotionMaxSkip:   cfg.MotionMaxSkip,
	}, log)
	emit := emitter.New(cfg.Quality, log)

	var (
		statsMu sync.Mutex
		stats   types.StreamStats
	)
	status := func() map[string]any {
		frames, size := emit.Counters()
		statsMu.Lock()
		last := stats
		statsMu.Unlock()
		return map[string]any{
			"camera_running": cam.IsRunning(),
			"frames_emitted": frames,
			"bytes_emitted":  size,
			"stream_fps":     last.FPS,
			"motion_ratio":   last.LastChangeRatio,
			"skipped_frames": last.SkippedFrames,
			"jobs":           env.Config.Jobs,
		}
	}
	srv := server.New(cfg, emit, status, log)
	emit.AddSink("websocket", srv)

	if cfg.RecordDir != "" {
		recorder, err := output.NewRawLogWriter(cfg.RecordDir, "camera")
		if err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Warn("raw log close failed", "error", err)
			}
		}()
		log.Info("recording stream", "path", recorder.Path())
		emit.AddSink("rawlog", recorder)
	}

	if cfg.ZMQPublish != "" {
		pub, err := zmqlink.NewPublisher(cfg.ZMQPublish)
		if err != nil {
			return fmt.Errorf("zmq publish %s: %w", cfg.ZMQPublish, err)
		}
		defer pub.Close()
		log.Info("publishing events over zmq", "endpoint", cfg.ZMQPublish)
		emit.AddSink("zmq", pub)
	}

	var tel *telemetry.Publisher
	if cfg.MQTTBroker != "" {
		var err error
		tel, err = telemetry.Connect(cfg.MQTTBroker, cfg.MQTTPrefix, log)
		if err != nil {
			return err
		}
		defer tel.Close()
		emit.AddSink("mqtt", tel)
	}

	streamer := streaming.New(cam, proc, emit, streaming.Options{
		FPS:           cfg.FPS,
		Preload:       cfg.Preload,
		StatsInterval: cfg.StatsInterval,
		OnStats: func(s types.StreamStats) {
			statsMu.Lock()
			stats = s
			statsMu.Unlock()
			if tel != nil {
				if err := tel.PublishStats(s); err != nil {
					log.Warn("stats publish failed", "error", err)
				}
			}
		},
	}, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := streamer.Start(runCtx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(runCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("interrupt received, stopping server")
		fmt.Fprintln(env.Stdout, "Stopping camera streaming server...")
	case runErr = <-serverErr:
		serverErr = nil
	case <-streamer.Done():
		runErr = streamer.Err()
	}

	streamer.Stop()
	cancel()
	if serverErr != nil {
		if err := <-serverErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	fmt.Fprintln(env.Stdout, "Server stopped")
	return runErr
}

func runInfo(_ context.Context, env *Env, args []string) error {
	device := "0"
	fs := newFlagSet("camera info", env)
	fs.StringVar(&device, "device", device, "Camera device ID or path, or \"synthetic\"")
	fs.StringVar(&device, "d", device, "shorthand for --device")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	d := camera.ParseDevice(device)
	env.Log.Info("checking camera info", "device", d.String())
	cam := camera.New(d, 0, 0, 0, env.Log)
	if err := cam.Start(); err != nil {
		return err
	}
	defer cam.Stop()

	info, err := cam.Info()
	if err != nil {
		return err
	}
	fmt.Fprintln(env.Stdout, "===== Camera Information =====")
	for _, f := range info {
		fmt.Fprintf(env.Stdout, "%s: %s\n", f.Key, types.FormatValue(f.Value))
	}
	return nil
}

func runView(ctx context.Context, env *Env, args []string) error {
	var url, zmqEndpoint, snapshot string
	var quiet bool
	fs := newFlagSet("camera view", env)
	fs.StringVar(&url, "url", "ws://localhost:5000/ws", "Websocket URL of a stream server")
	fs.StringVar(&zmqEndpoint, "zmq", "", "Subscribe to a ZeroMQ endpoint instead of the websocket")
	fs.StringVar(&snapshot, "snapshot", "", "Keep the latest frame in this JPEG file")
	fs.BoolVar(&quiet, "quiet", false, "Do not print the FPS readout")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	console := viewer.NewConsole(env.Stdout)
	targets := viewer.Targets{Loading: console, Info: console}
	if !quiet {
		targets.FPS = console
	}
	if snapshot != "" {
		targets.Surface = viewer.FileSurface{Path: snapshot}
	}
	v := viewer.New(targets, nil)

	if zmqEndpoint != "" {
		events, err := zmqlink.Subscribe(ctx, zmqEndpoint, 100, env.Log)
		if err != nil {
			return fmt.Errorf("zmq subscribe %s: %w", zmqEndpoint, err)
		}
		for ev := range events {
			v.Handle(ev)
		}
		return nil
	}

	err := viewer.NewClient(url, env.Log).Run(ctx, v.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runDump(_ context.Context, env *Env, args []string) error {
	var (
		path    string
		limit   int
		extract string
	)
	fs := newFlagSet("camera dump", env)
	fs.StringVar(&path, "path", "", "Path to a raw log .bin file")
	fs.IntVar(&limit, "limit", 1, "Number of records to dump, 0 for all")
	fs.StringVar(&extract, "extract", "", "Write frame records as JPEG files into this directory")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if path == "" {
		return &usageError{kind: ErrUsage, msg: "--path is required"}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rawlog: %w", err)
	}
	defer f.Close()
	return dump(env, f, limit, extract)
}

func dump(env *Env, r io.Reader, limit int, extract string) error {
	reader, err := output.NewRawLogReader(r)
	if err != nil {
		return err
	}
	if extract != "" {
		if err := os.MkdirAll(extract, 0o755); err != nil {
			return err
		}
	}

	for count := 0; limit <= 0 || count < limit; count++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		ev, err := wire.Unmarshal(rec.Payload)
		if err != nil {
			env.Log.Warn("record decode error", "record", count, "error", err)
			continue
		}
		ts := rec.Time.Format(time.RFC3339Nano)

		switch ev.Type {
		case types.EventFrame:
			data, err := base64.StdEncoding.DecodeString(ev.Frame)
			if err != nil {
				env.Log.Warn("record frame decode error", "record", count, "error", err)
				continue
			}
			fmt.Fprintf(env.Stdout, "record %d timestamp=%s type=frame jpeg_bytes=%d\n", count, ts, len(data))
			if extract != "" {
				name := filepath.Join(extract, fmt.Sprintf("frame_%06d.jpg", count))
				if err := os.WriteFile(name, data, 0o644); err != nil {
					return err
				}
			}
		default:
			fmt.Fprintf(env.Stdout, "record %d timestamp=%s type=%s\n", count, ts, ev.Type)
			pretty, err := json.MarshalIndent(ev.Data, "", "  ")
			if err != nil {
				env.Log.Warn("record encode error", "record", count, "error", err)
				continue
			}
			fmt.Fprintln(env.Stdout, string(pretty))
		}
	}
	return nil
}
