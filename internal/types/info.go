package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is a single key/value entry of an Info record.
type Field struct {
	Key   string
	Value any
}

// Info is a flat key/value record that keeps insertion order through JSON.
type Info []Field

func (in Info) Get(key string) (any, bool) {
	for _, f := range in {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing key or appends a new one.
func (in Info) Set(key string, value any) Info {
	for i := range in {
		if in[i].Key == key {
			in[i].Value = value
			return in
		}
	}
	return append(in, Field{Key: key, Value: value})
}

func (in Info) Merge(other Info) Info {
	out := append(Info(nil), in...)
	for _, f := range other {
		out = out.Set(f.Key, f.Value)
	}
	return out
}

func (in Info) Clone() Info {
	if in == nil {
		return nil
	}
	return append(Info(nil), in...)
}

// FormatValue renders a value the way the info panel shows it.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return "None"
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case bool:
		if n {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}

func (in Info) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range in {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("info %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (in *Info) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*in = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("info: expected object, got %v", tok)
	}
	out := Info{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("info: unexpected key %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("info %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: normalizeNumber(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*in = out
	return nil
}

func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
