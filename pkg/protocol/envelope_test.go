package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("file content")
	err := WriteMessage(&buf, Outbound{
		Type:      TypeAPIRequest,
		IntInfo:   int(APIDataObjPut),
		Body:      PutRequest("/z/home/u/f", int64(len(payload)), 0, false, nil).Body(),
		Stream:    bytes.NewReader(payload),
		StreamLen: int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if msg.Header.Type != TypeAPIRequest {
		t.Errorf("type = %q", msg.Header.Type)
	}
	if msg.Header.IntInfo != int(APIDataObjPut) {
		t.Errorf("intInfo = %d", msg.Header.IntInfo)
	}
	if !msg.Header.HasBsLen || msg.Header.BsLen != int64(len(payload)) {
		t.Errorf("bsLen = %d (present %v)", msg.Header.BsLen, msg.Header.HasBsLen)
	}
	body, err := msg.BodyTag()
	if err != nil {
		t.Fatalf("BodyTag() error = %v", err)
	}
	inp, err := DecodeDataObjInp(body)
	if err != nil {
		t.Fatalf("DecodeDataObjInp() error = %v", err)
	}
	if inp.Path != "/z/home/u/f" || inp.OprType != OprPut {
		t.Errorf("decoded %+v", inp)
	}

	rest, _ := io.ReadAll(&buf)
	if !bytes.Equal(rest, payload) {
		t.Errorf("stream = %q, want %q", rest, payload)
	}
}

func TestReadHeaderWithoutBsLen(t *testing.T) {
	hdr := Header{Type: TypeAPIReply, MsgLen: 0, IntInfo: 0}.Tag().Render()
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(hdr)))
	buf.Write(prefix[:])
	buf.Write(hdr)

	h, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.HasBsLen {
		t.Fatalf("HasBsLen = true for header without bsLen")
	}
}

func TestReadHeaderRejectsBadLength(t *testing.T) {
	tests := []struct {
		name string
		n    uint32
	}{
		{name: "zero", n: 0},
		{name: "too large", n: MaxHeaderLen + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prefix [4]byte
			binary.BigEndian.PutUint32(prefix[:], tt.n)
			_, err := ReadHeader(bytes.NewReader(prefix[:]))
			if !fault.Is(err, fault.ProtocolViolation) {
				t.Fatalf("ReadHeader() error = %v, want protocol violation", err)
			}
		})
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	_, err := ReadHeader(strings.NewReader("\x00\x00"))
	if err == nil {
		t.Fatalf("ReadHeader() on truncated input succeeded")
	}
}

func TestWriteMessageStreamShort(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, Outbound{
		Type:      TypeAPIRequest,
		Stream:    strings.NewReader("abc"),
		StreamLen: 10,
	})
	if err == nil {
		t.Fatalf("WriteMessage() with short stream succeeded")
	}
}
