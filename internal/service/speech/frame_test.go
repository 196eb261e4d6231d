package speech

import (
	"bytes"
	"testing"
)

// TestFrameRoundTrip 测试帧编解码
func TestFrameRoundTrip(t *testing.T) {
	f, err := newRequestFrame([]byte(`{"audio":{"format":"pcm"}}`))
	if err != nil {
		t.Fatalf("newRequestFrame: %v", err)
	}

	decoded, err := unmarshalFrame(f.marshal())
	if err != nil {
		t.Fatalf("unmarshalFrame: %v", err)
	}
	if decoded.Type != frameFullClientRequest {
		t.Errorf("type mismatch: got %v", decoded.Type)
	}
	payload, err := decoded.payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(payload) != `{"audio":{"format":"pcm"}}` {
		t.Errorf("payload mismatch: %s", payload)
	}
}

// TestAudioFrameLastPacket 最后一包使用负序号
func TestAudioFrameLastPacket(t *testing.T) {
	f, err := newAudioFrame([]byte{1, 2, 3}, 5, true)
	if err != nil {
		t.Fatalf("newAudioFrame: %v", err)
	}

	decoded, err := unmarshalFrame(f.marshal())
	if err != nil {
		t.Fatalf("unmarshalFrame: %v", err)
	}
	if !decoded.isLast() {
		t.Fatal("expected last packet flag")
	}
	if decoded.Sequence != -5 {
		t.Fatalf("sequence: got %d want -5", decoded.Sequence)
	}
	raw, _ := decoded.payload()
	if !bytes.Equal(raw, []byte{1, 2, 3}) {
		t.Fatalf("audio payload mismatch: %v", raw)
	}
}

func TestUnmarshalServerError(t *testing.T) {
	data := []byte{
		0x11, byte(frameServerError) << 4, 0x10, 0x00,
		0x00, 0x00, 0x00, 0x2A, // error code
		0x00, 0x00, 0x00, 0x03, // size
		'b', 'a', 'd',
	}
	f, err := unmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshalFrame: %v", err)
	}
	if f.ErrorCode != 42 || string(f.Payload) != "bad" {
		t.Fatalf("unexpected frame: code=%d payload=%q", f.ErrorCode, f.Payload)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	if _, err := unmarshalFrame([]byte{0x11, 0x90}); err == nil {
		t.Fatal("expected error for truncated header")
	}
	if _, err := unmarshalFrame([]byte{0x21, 0x90, 0x10, 0x00}); err == nil {
		t.Fatal("expected error for wrong version")
	}
}

func BenchmarkFrameRoundTrip(b *testing.B) {
	chunk := make([]byte, 6400)
	for i := range chunk {
		chunk[i] = byte(i % 256)
	}
	for i := 0; i < b.N; i++ {
		f, _ := newAudioFrame(chunk, int32(i+2), false)
		_, _ = unmarshalFrame(f.marshal())
	}
}
