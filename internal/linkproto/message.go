// Package linkproto implements the framed protocol spoken between the main
// controller and a remote card reader unit over a serial line.
//
// Each message is encoded as a varint variant tag followed by its fixed-width
// payload, stuffed with COBS so that 0x00 never appears in the body, and
// terminated by a single 0x00 delimiter. A frame never exceeds MaxFrameLen
// bytes including the delimiter.
package linkproto

import "fmt"

// RemoteKind identifies a message sent from the remote unit to the controller.
// The numeric values are the on-wire variant tags.
type RemoteKind uint8

const (
	SingleUID RemoteKind = iota
	DoubleUID
	TripleUID
	ReadError
	ReaderFault
	JustReset
	KeepAlive
)

func (k RemoteKind) String() string {
	switch k {
	case SingleUID:
		return "SingleUid"
	case DoubleUID:
		return "DoubleUid"
	case TripleUID:
		return "TripleUid"
	case ReadError:
		return "ReadError"
	case ReaderFault:
		return "ReaderFault"
	case JustReset:
		return "JustReset"
	case KeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("RemoteKind(%d)", uint8(k))
	}
}

// uidLen is the payload width carried by k, or 0 for payload-less variants.
func (k RemoteKind) uidLen() int {
	switch k {
	case SingleUID:
		return 4
	case DoubleUID:
		return 7
	case TripleUID:
		return 10
	default:
		return 0
	}
}

// IsUID reports whether k carries a card UID.
func (k RemoteKind) IsUID() bool { return k.uidLen() > 0 }

// RemoteMessage is one Remote→Main message. UID is set only for the three
// UID variants and always has the width that variant requires.
type RemoteMessage struct {
	Kind RemoteKind
	UID  []byte
}

// UIDMessage builds the UID variant matching the cascade level of uid.
func UIDMessage(uid []byte) (RemoteMessage, error) {
	var k RemoteKind
	switch len(uid) {
	case 4:
		k = SingleUID
	case 7:
		k = DoubleUID
	case 10:
		k = TripleUID
	default:
		return RemoteMessage{}, fmt.Errorf("linkproto: unsupported uid length %d", len(uid))
	}
	return RemoteMessage{Kind: k, UID: append([]byte(nil), uid...)}, nil
}

func (m RemoteMessage) String() string {
	if m.Kind.IsUID() {
		return fmt.Sprintf("%s(%x)", m.Kind, m.UID)
	}
	return m.Kind.String()
}

// MainMessage is one Main→Remote status message driving the remote unit's
// indicator LEDs.
type MainMessage uint8

const (
	AccessGranted MainMessage = iota
	AccessDenied
	AwaitingCard
)

func (m MainMessage) String() string {
	switch m {
	case AccessGranted:
		return "AccessGranted"
	case AccessDenied:
		return "AccessDenied"
	case AwaitingCard:
		return "AwaitingCard"
	default:
		return fmt.Sprintf("MainMessage(%d)", uint8(m))
	}
}
