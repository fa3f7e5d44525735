package viewer

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSurface writes every frame it is given to Path, replacing the previous
// one atomically. Sources that are not base64 JPEG data URIs are ignored.
type FileSurface struct {
	Path string
}

func (f FileSurface) SetSource(uri string) {
	if !strings.HasPrefix(uri, dataURIHead) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(uri[len(dataURIHead):])
	if err != nil || len(data) == 0 {
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".frame-*")
	if err != nil {
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		_ = os.Remove(tmp.Name())
	}
}

// Console renders the indicator, readout and info panel as text lines.
type Console struct {
	mu sync.Mutex
	W  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{W: w}
}

func (c *Console) FadeOut() {
	c.printf("stream connected, receiving frames\n")
}

func (c *Console) SetText(text string) {
	c.printf("FPS: %s\n", text)
}

func (c *Console) Render(heading string, items []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "===== %s =====\n", heading)
	for _, item := range items {
		b.WriteString(item)
		b.WriteByte('\n')
	}
	c.printf("%s", b.String())
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.W, format, args...)
}
