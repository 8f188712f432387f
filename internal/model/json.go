package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Millis is a unix-millisecond timestamp that tolerates the three
// encodings the server has been observed to use: a JSON number, a
// numeric string, and an RFC 3339 string.
type Millis int64

// Time converts the timestamp to a time.Time.
func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

// Now returns the current time as Millis.
func Now() Millis { return Millis(time.Now().UnixMilli()) }

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*m = Millis(n)
	return nil
}

// CoerceList decodes a payload that should be a JSON array of T but may
// arrive as a bare object, in which case it becomes a single-element
// list. An empty or null payload decodes to nil.
func CoerceList[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
