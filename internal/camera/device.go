package camera

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"moro/internal/types"
)

type Info = types.Info

const SyntheticDevice = "synthetic"

// Device is either a numeric index or a path/name understood by ffmpeg.
type Device struct {
	Index int
	Path  string
}

func ParseDevice(s string) Device {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return Device{Index: n}
	}
	return Device{Index: -1, Path: s}
}

func (d Device) Synthetic() bool {
	return d.Index < 0 && d.Path == SyntheticDevice
}

func (d Device) String() string {
	if d.Index >= 0 {
		return strconv.Itoa(d.Index)
	}
	return d.Path
}

// Value is the device id as reported in camera info.
func (d Device) Value() any {
	if d.Index >= 0 {
		return d.Index
	}
	return d.Path
}

func (d Device) input(goos string) (format, input string) {
	if goos == "windows" {
		if d.Index >= 0 {
			return "dshow", fmt.Sprintf("video=%d", d.Index)
		}
		return "dshow", "video=" + d.Path
	}
	if goos == "darwin" {
		return "avfoundation", d.String()
	}
	if d.Index >= 0 {
		return "v4l2", fmt.Sprintf("/dev/video%d", d.Index)
	}
	return "v4l2", d.Path
}

func ffmpegArgs(d Device, width, height, fps int, goos string) []string {
	format, input := d.input(goos)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-framerate", strconv.Itoa(fps),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	}
}

func defaultArgs(d Device, width, height, fps int) []string {
	return ffmpegArgs(d, width, height, fps, runtime.GOOS)
}
