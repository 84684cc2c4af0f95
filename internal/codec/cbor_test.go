package codec_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"tether/internal/codec"
)

type frame struct {
	Type    string `cbor:"type"`
	Payload []byte `cbor:"payload,omitempty"`
}

func TestFramesStreamInOrder(t *testing.T) {
	var buf bytes.Buffer
	for _, name := range []string{"a", "b", "c"} {
		if err := codec.WriteFrame(&buf, frame{Type: name, Payload: []byte(name)}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		var got frame
		if err := codec.ReadFrame(&buf, 1024, &got); err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Type != want || string(got.Payload) != want {
			t.Fatalf("unexpected frame %+v", got)
		}
	}
	var extra frame
	if err := codec.ReadFrame(&buf, 1024, &extra); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after last frame, got %v", err)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, frame{Type: "big", Payload: make([]byte, 4096)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var got frame
	if err := codec.ReadFrame(&buf, 128, &got); !errors.Is(err, codec.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"z": 1, "a": "x", "m": []byte{1}}
	first, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding not deterministic: %x vs %x", first, second)
	}
}
