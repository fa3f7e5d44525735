// Package wire is the binary CBOR form of stream events used by the raw log
// and the ZeroMQ link. Frames travel as raw JPEG bytes rather than base64.
package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"moro/internal/types"
)

type field struct {
	_     struct{} `cbor:",toarray"`
	Key   string
	Value any
}

type message struct {
	Type  string  `cbor:"type"`
	Frame []byte  `cbor:"frame,omitempty"`
	Info  []field `cbor:"info,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

func Marshal(ev types.Event) ([]byte, error) {
	msg := message{Type: ev.Type}
	switch ev.Type {
	case types.EventFrame:
		jpeg, err := base64.StdEncoding.DecodeString(ev.Frame)
		if err != nil {
			return nil, fmt.Errorf("frame payload is not base64: %w", err)
		}
		msg.Frame = jpeg
	case types.EventCameraInfo:
		msg.Info = make([]field, 0, len(ev.Data))
		for _, f := range ev.Data {
			msg.Info = append(msg.Info, field{Key: f.Key, Value: f.Value})
		}
	}
	return encMode.Marshal(msg)
}

func Unmarshal(data []byte) (types.Event, error) {
	var msg message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return types.Event{}, err
	}
	ev := types.Event{Type: msg.Type}
	switch msg.Type {
	case types.EventFrame:
		ev.Frame = base64.StdEncoding.EncodeToString(msg.Frame)
	case types.EventCameraInfo:
		ev.Data = make(types.Info, 0, len(msg.Info))
		for _, f := range msg.Info {
			ev.Data = append(ev.Data, types.Field{Key: f.Key, Value: normalize(f.Value)})
		}
	case "":
		return types.Event{}, fmt.Errorf("message without type")
	}
	return ev, nil
}

// normalize folds CBOR integer types into int64 when they fit.
func normalize(v any) any {
	switch n := v.(type) {
	case uint64:
		if n <= 1<<63-1 {
			return int64(n)
		}
	}
	return v
}
