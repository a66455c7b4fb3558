package linkproto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Delimiter terminates every frame and never appears inside one.
	Delimiter byte = 0x00

	// MaxFrameLen bounds a frame on the wire, delimiter included.
	MaxFrameLen = 16
)

var (
	ErrTransport      = errors.New("linkproto: transport error")
	ErrDecode         = errors.New("linkproto: decode error")
	ErrBufferOverflow = errors.New("linkproto: frame exceeds buffer")
)

// EncodeRemote returns the complete frame for m, delimiter included.
func EncodeRemote(m RemoteMessage) ([]byte, error) {
	n := m.Kind.uidLen()
	if m.Kind > KeepAlive {
		return nil, fmt.Errorf("linkproto: unknown remote message kind %d", m.Kind)
	}
	if len(m.UID) != n {
		return nil, fmt.Errorf("linkproto: %s needs %d uid bytes, got %d", m.Kind, n, len(m.UID))
	}

	body := protowire.AppendVarint(make([]byte, 0, 1+n), uint64(m.Kind))
	body = append(body, m.UID...)
	return frame(body)
}

// EncodeMain returns the complete frame for m, delimiter included.
func EncodeMain(m MainMessage) ([]byte, error) {
	if m > AwaitingCard {
		return nil, fmt.Errorf("linkproto: unknown main message %d", uint8(m))
	}
	return frame(protowire.AppendVarint(nil, uint64(m)))
}

func frame(body []byte) ([]byte, error) {
	out := append(cobsEncode(body), Delimiter)
	if len(out) > MaxFrameLen {
		return nil, fmt.Errorf("linkproto: encoded frame is %d bytes, limit %d", len(out), MaxFrameLen)
	}
	return out, nil
}

// DecodeRemote parses a stuffed frame body (delimiter stripped).
func DecodeRemote(stuffed []byte) (RemoteMessage, error) {
	tag, payload, err := unframe(stuffed)
	if err != nil {
		return RemoteMessage{}, err
	}
	if tag > uint64(KeepAlive) {
		return RemoteMessage{}, fmt.Errorf("%w: unknown remote variant %d", ErrDecode, tag)
	}

	k := RemoteKind(tag)
	if len(payload) != k.uidLen() {
		return RemoteMessage{}, fmt.Errorf("%w: %s payload is %d bytes", ErrDecode, k, len(payload))
	}

	m := RemoteMessage{Kind: k}
	if k.IsUID() {
		m.UID = append([]byte(nil), payload...)
	}
	return m, nil
}

// DecodeMain parses a stuffed frame body (delimiter stripped).
func DecodeMain(stuffed []byte) (MainMessage, error) {
	tag, payload, err := unframe(stuffed)
	if err != nil {
		return 0, err
	}
	if tag > uint64(AwaitingCard) || len(payload) != 0 {
		return 0, fmt.Errorf("%w: bad main message variant %d", ErrDecode, tag)
	}
	return MainMessage(tag), nil
}

func unframe(stuffed []byte) (uint64, []byte, error) {
	body, err := cobsDecode(stuffed)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	tag, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
	}
	return tag, body[n:], nil
}
