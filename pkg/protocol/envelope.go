package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Header is the MsgHeader_PI that precedes every message.
type Header struct {
	Type     string
	MsgLen   int
	ErrorLen int
	// BsLen is the length of the trailing binary stream. HasBsLen is false
	// when the server omitted the field, which is not the same as zero.
	BsLen    int64
	HasBsLen bool
	IntInfo  int
}

// Tag returns the packing-instruction form of h.
func (h Header) Tag() *Tag {
	t := NewTag("MsgHeader_PI",
		Str("type", h.Type),
		Int("msgLen", h.MsgLen),
		Int("errorLen", h.ErrorLen),
	)
	if h.HasBsLen {
		t.Add(Int64("bsLen", h.BsLen))
	}
	return t.Add(Int("intInfo", h.IntInfo))
}

// Outbound describes a message to send. Stream, when set, must yield exactly
// StreamLen bytes.
type Outbound struct {
	Type      string
	IntInfo   int
	Body      *Tag
	Stream    io.Reader
	StreamLen int64
}

// Message is a received message without its binary stream, which is left
// unread on the connection for the caller to consume.
type Message struct {
	Header Header
	Body   []byte
	Error  []byte
}

// WriteMessage frames and writes m: a 4-byte big-endian header length, the
// header, the body and the binary stream.
func WriteMessage(w io.Writer, m Outbound) error {
	var body []byte
	if m.Body != nil {
		body = m.Body.Render()
	}
	if m.StreamLen < 0 {
		return errors.Errorf("negative stream length %d", m.StreamLen)
	}
	if m.StreamLen > 0 && m.Stream == nil {
		return errors.New("stream length set without stream")
	}
	hdr := Header{
		Type:     m.Type,
		MsgLen:   len(body),
		BsLen:    m.StreamLen,
		HasBsLen: true,
		IntInfo:  m.IntInfo,
	}.Tag().Render()

	var buf bytes.Buffer
	buf.Grow(4 + len(hdr) + len(body))
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(hdr)))
	buf.Write(prefix[:])
	buf.Write(hdr)
	buf.Write(body)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write message")
	}
	if m.StreamLen > 0 {
		n, err := io.CopyN(w, m.Stream, m.StreamLen)
		if err != nil {
			return errors.Wrapf(err, "write stream (%d of %d bytes)", n, m.StreamLen)
		}
	}
	return nil
}

// ReadHeader reads the length prefix and MsgHeader_PI.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return h, errors.Wrap(err, "read header length")
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > MaxHeaderLen {
		return h, fault.Newf(fault.ProtocolViolation, "read header", "header length %d out of range", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return h, errors.Wrap(err, "read header")
	}
	tag, err := Decode(raw)
	if err != nil {
		return h, err
	}
	return headerFromTag(tag)
}

func headerFromTag(tag *Tag) (Header, error) {
	var h Header
	if tag.Name != "MsgHeader_PI" {
		return h, fault.Newf(fault.ProtocolViolation, "read header", "unexpected packet %s", tag.Name)
	}
	var err error
	if h.Type, err = tag.GetStr("type"); err != nil {
		return h, err
	}
	if h.MsgLen, err = tag.GetInt("msgLen"); err != nil {
		return h, err
	}
	if h.ErrorLen, err = tag.GetInt("errorLen"); err != nil {
		return h, err
	}
	if h.BsLen, h.HasBsLen, err = tag.OptionalInt64("bsLen"); err != nil {
		return h, err
	}
	if h.IntInfo, err = tag.GetInt("intInfo"); err != nil {
		return h, err
	}
	if h.MsgLen < 0 || h.MsgLen > MaxBodyLen || h.ErrorLen < 0 || h.ErrorLen > MaxBodyLen || h.BsLen < 0 {
		return h, fault.Newf(fault.ProtocolViolation, "read header",
			"lengths out of range (msg %d, error %d, bs %d)", h.MsgLen, h.ErrorLen, h.BsLen)
	}
	return h, nil
}

// ReadMessage reads a header followed by its body and error sections.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: h}
	if h.MsgLen > 0 {
		msg.Body = make([]byte, h.MsgLen)
		if _, err := io.ReadFull(r, msg.Body); err != nil {
			return nil, errors.Wrap(err, "read body")
		}
	}
	if h.ErrorLen > 0 {
		msg.Error = make([]byte, h.ErrorLen)
		if _, err := io.ReadFull(r, msg.Error); err != nil {
			return nil, errors.Wrap(err, "read error section")
		}
	}
	return msg, nil
}

// BodyTag decodes the message body, or returns nil when there is none.
func (m *Message) BodyTag() (*Tag, error) {
	if m == nil || len(m.Body) == 0 {
		return nil, nil
	}
	return Decode(m.Body)
}
