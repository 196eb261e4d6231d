package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎 SAUC 二进制帧：4 字节头 + 可选 sequence + payload size + payload。
const protocolVersion = 0b0001

type frameType uint8

const (
	frameFullClientRequest  frameType = 0b0001
	frameAudioOnlyRequest   frameType = 0b0010
	frameFullServerResponse frameType = 0b1001
	frameServerAck          frameType = 0b1011
	frameServerError        frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
)

const (
	serializeNone uint8 = 0b0000
	serializeJSON uint8 = 0b0001

	compressNone uint8 = 0b0000
	compressGzip uint8 = 0b0001
)

var errBadFrame = errors.New("malformed asr frame")

type frame struct {
	Type        frameType
	Flags       frameFlags
	Serialize   uint8
	Compress    uint8
	HeaderWords uint8
	Sequence    int32
	ErrorCode   uint32
	Payload     []byte
}

func (f *frame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) isLast() bool {
	switch f.Flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.Type)<<4 | uint8(f.Flags))
	buf.WriteByte(f.Serialize<<4 | f.Compress)
	buf.WriteByte(0)

	word := make([]byte, 4)
	if f.hasSequence() {
		binary.BigEndian.PutUint32(word, uint32(f.Sequence))
		buf.Write(word)
	}
	binary.BigEndian.PutUint32(word, uint32(len(f.Payload)))
	buf.Write(word)
	buf.Write(f.Payload)
	return buf.Bytes()
}

func unmarshalFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: header: %v", errBadFrame, err)
	}
	if v := head[0] >> 4; v != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", errBadFrame, v)
	}

	f := &frame{
		HeaderWords: head[0] & 0x0F,
		Type:        frameType(head[1] >> 4),
		Flags:       frameFlags(head[1] & 0x0F),
		Serialize:   head[2] >> 4,
		Compress:    head[2] & 0x0F,
	}
	if extra := int(f.HeaderWords)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("%w: extended header: %v", errBadFrame, err)
		}
	}

	var word uint32
	if f.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &word); err != nil {
			return nil, fmt.Errorf("%w: sequence: %v", errBadFrame, err)
		}
		f.Sequence = int32(word)
	}
	if f.Type == frameServerError {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("%w: error code: %v", errBadFrame, err)
		}
	}
	if err := binary.Read(r, binary.BigEndian, &word); err != nil {
		return nil, fmt.Errorf("%w: payload size: %v", errBadFrame, err)
	}
	if word > 0 {
		f.Payload = make([]byte, word)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("%w: payload (%d bytes): %v", errBadFrame, word, err)
		}
	}
	return f, nil
}

// payload 返回解压后的负载。
func (f *frame) payload() ([]byte, error) {
	if f.Compress != compressGzip || len(f.Payload) == 0 {
		return f.Payload, nil
	}
	return gunzip(f.Payload)
}

func newRequestFrame(payload []byte) (*frame, error) {
	zipped, err := gzipBytes(payload)
	if err != nil {
		return nil, err
	}
	return &frame{Type: frameFullClientRequest, Flags: flagNoSequence, Serialize: serializeJSON, Compress: compressGzip, Payload: zipped}, nil
}

// newAudioFrame 构造音频包；最后一包使用负序号。
func newAudioFrame(chunk []byte, seq int32, last bool) (*frame, error) {
	zipped, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}
	f := &frame{Type: frameAudioOnlyRequest, Flags: flagPositiveSequence, Serialize: serializeNone, Compress: compressGzip, Sequence: seq, Payload: zipped}
	if last {
		f.Flags = flagNegativeSequence
		f.Sequence = -seq
	}
	return f, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
