package types

import "encoding/json"

const (
	EventFrame      = "frame"
	EventCameraInfo = "camera_info"
	EventSync       = "sync"
)

// Event is the unit pushed from the producer to every viewer.
// Frame carries base64 JPEG for frame events, Data the info record for
// camera_info events.
type Event struct {
	Type  string `json:"type"`
	Frame string `json:"frame,omitempty"`
	Data  Info   `json:"data,omitempty"`
}

// MarshalJSON always writes the data object for camera_info events, even
// when the record is empty, plus the key order as a list: browsers iterate
// integer-like object keys first, whatever order they arrived in.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventCameraInfo {
		data := e.Data
		if data == nil {
			data = Info{}
		}
		keys := make([]string, len(data))
		for i, f := range data {
			keys[i] = f.Key
		}
		return json.Marshal(struct {
			Type string   `json:"type"`
			Data Info     `json:"data"`
			Keys []string `json:"keys"`
		}{e.Type, data, keys})
	}
	type plain Event
	return json.Marshal(plain(e))
}

func FrameEvent(b64 string) Event {
	return Event{Type: EventFrame, Frame: b64}
}

func InfoEvent(info Info) Event {
	return Event{Type: EventCameraInfo, Data: info}
}

// StreamStats is reported by the streaming loop once per logging interval.
type StreamStats struct {
	FPS             float64 `json:"fps" yaml:"fps"`
	FramesSent      uint64  `json:"frames_sent" yaml:"frames_sent"`
	LastChangeRatio float64 `json:"motion_ratio" yaml:"motion_ratio"`
	SkippedFrames   int     `json:"skipped" yaml:"skipped"`
}
