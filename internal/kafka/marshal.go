package kafka

import (
	"encoding/json"
	"fmt"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeFrame rejects frames missing the fields routing depends on.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.FrameID == "" || f.SessionID == "" || f.To == "" {
		return Frame{}, fmt.Errorf("decode frame: missing frame_id, session_id or to")
	}
	switch f.Kind {
	case FrameOpen, FrameData, FrameClose:
	default:
		return Frame{}, fmt.Errorf("decode frame: unknown kind %q", f.Kind)
	}
	return f, nil
}
