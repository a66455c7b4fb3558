package linkproto

import (
	"bufio"
	"errors"
	"io"
)

// FrameReader splits a byte stream into delimiter-terminated frames.
// It is not safe for concurrent use.
type FrameReader struct {
	r   io.ByteReader
	buf [MaxFrameLen]byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReaderSize(r, 64)
	}
	return &FrameReader{r: br}
}

// Next returns the stuffed body of the next frame without its delimiter.
// A frame that does not fit the buffer is skipped up to its delimiter and
// reported as ErrBufferOverflow. The returned slice is only valid until the
// following call.
func (f *FrameReader) Next() ([]byte, error) {
	for i := range f.buf {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, errors.Join(ErrTransport, err)
		}
		if b == Delimiter {
			return f.buf[:i], nil
		}
		f.buf[i] = b
	}

	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, errors.Join(ErrTransport, err)
		}
		if b == Delimiter {
			return nil, ErrBufferOverflow
		}
	}
}

// ReadRemote reads and decodes the next Remote→Main message.
func (f *FrameReader) ReadRemote() (RemoteMessage, error) {
	body, err := f.Next()
	if err != nil {
		return RemoteMessage{}, err
	}
	return DecodeRemote(body)
}

// ReadMain reads and decodes the next Main→Remote message.
func (f *FrameReader) ReadMain() (MainMessage, error) {
	body, err := f.Next()
	if err != nil {
		return 0, err
	}
	return DecodeMain(body)
}
