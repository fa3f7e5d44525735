package wire

import (
	"encoding/base64"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"moro/internal/types"
)

func TestCameraInfoKeepsOrder(t *testing.T) {
	ev := types.InfoEvent(types.Info{
		{Key: "width", Value: 640},
		{Key: "device_id", Value: "/dev/video0"},
		{Key: "stream_grayscale", Value: false},
		{Key: "fps", Value: 14.5},
	})
	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != types.EventCameraInfo || len(got.Data) != 4 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Data[0].Key != "width" || got.Data[0].Value != int64(640) {
		t.Fatalf("unexpected first field: %+v", got.Data[0])
	}
	if got.Data[3].Key != "fps" || got.Data[3].Value != 14.5 {
		t.Fatalf("unexpected last field: %+v", got.Data[3])
	}
}

func TestFrameTravelsAsBytes(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	data, err := Marshal(types.FrameEvent(base64.StdEncoding.EncodeToString(jpeg)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if b, ok := raw["frame"].([]byte); !ok || len(b) != len(jpeg) {
		t.Fatalf("frame should be a byte string, got %T", raw["frame"])
	}
}

func TestMarshalRejectsBadBase64(t *testing.T) {
	if _, err := Marshal(types.FrameEvent("not base64!")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUnmarshalRequiresType(t *testing.T) {
	data, _ := cbor.Marshal(map[string]any{"frame": []byte{1}})
	if _, err := Unmarshal(data); err == nil {
		t.Fatalf("expected error for untyped message")
	}
}
