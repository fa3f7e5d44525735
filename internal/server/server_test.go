package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"moro/internal/config"
	"moro/internal/types"
)

type fakeState struct {
	frame string
	info  types.Info
}

func (f fakeState) CachedFrame() string    { return f.frame }
func (f fakeState) CameraInfo() types.Info { return f.info }

func TestHandleConfig(t *testing.T) {
	cfg := config.DefaultStream()
	cfg.Port = 9999
	cfg.ResizeWidth, cfg.ResizeHeight = 320, 240
	srv := New(cfg, nil, nil, nil)

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["port"].(float64) != 9999 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
	if payload["fps"].(float64) != 15 {
		t.Fatalf("unexpected fps: %v", payload["fps"])
	}
	res := payload["stream_resolution"].([]any)
	if res[0].(float64) != 320 || res[1].(float64) != 240 {
		t.Fatalf("unexpected stream_resolution: %v", res)
	}
}

func TestHandleStatus(t *testing.T) {
	cfg := config.DefaultStream()
	cfg.BroadcastQueue = 1
	srv := New(cfg, nil, func() map[string]any {
		return map[string]any{"stream": "active"}
	}, nil)
	_ = srv.Publish(types.FrameEvent("a"))
	_ = srv.Publish(types.FrameEvent("b"))

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["stream"] != "active" {
		t.Fatalf("status fields missing: %v", payload)
	}
	if payload["ws_clients"].(float64) != 0 {
		t.Fatalf("unexpected ws_clients: %v", payload["ws_clients"])
	}
	if payload["events_dropped_total"].(float64) != 1 {
		t.Fatalf("expected one dropped event: %v", payload["events_dropped_total"])
	}
}

func TestIndexIsServed(t *testing.T) {
	srv := New(config.DefaultStream(), nil, nil, nil)
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	for _, path := range []string{"/", "/static/stream.js"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get %s: status %d", path, resp.StatusCode)
		}
		if path == "/" && !strings.Contains(string(body), "video-stream") {
			t.Fatalf("index missing image element")
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev types.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebsocketReceivesStateThenBroadcasts(t *testing.T) {
	state := fakeState{
		frame: "Y2FjaGVk",
		info:  types.Info{{Key: "width", Value: 640}, {Key: "height", Value: 480}},
	}
	srv := New(config.DefaultStream(), state, nil, nil)
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Broadcast(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readEvent(t, conn)
	if first.Type != types.EventFrame || first.Frame != "Y2FjaGVk" {
		t.Fatalf("expected cached frame first, got %+v", first)
	}
	second := readEvent(t, conn)
	if second.Type != types.EventCameraInfo || len(second.Data) != 2 || second.Data[1].Key != "height" {
		t.Fatalf("expected camera info second, got %+v", second)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.clientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = srv.Publish(types.FrameEvent("bGl2ZQ=="))
	live := readEvent(t, conn)
	if live.Frame != "bGl2ZQ==" {
		t.Fatalf("unexpected live frame: %+v", live)
	}

	if err := conn.WriteJSON(map[string]string{"type": types.EventSync}); err != nil {
		t.Fatalf("write sync: %v", err)
	}
	if ev := readEvent(t, conn); ev.Frame != "Y2FjaGVk" {
		t.Fatalf("sync should resend cached frame, got %+v", ev)
	}
}
