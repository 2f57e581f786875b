package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// DataHeaderLen is the encoded size of a DataHeader.
const DataHeaderLen = 24

// DataHeader precedes each range on a parallel data socket. A header with
// Opr == OprDone ends the socket's work.
type DataHeader struct {
	Opr    int32
	Flags  int32
	Offset int64
	Length int64
}

// WriteCookie authenticates a data socket.
func WriteCookie(w io.Writer, cookie int) error {
	return writeUint32Data(w, uint32(int32(cookie)), "cookie")
}

// ReadCookie reads a data socket's cookie.
func ReadCookie(r io.Reader) (int, error) {
	v, err := readUint32Data(r, "cookie")
	if err != nil {
		return 0, err
	}
	return int(int32(v)), nil
}

// WriteDataHeader writes h in big-endian order.
func WriteDataHeader(w io.Writer, h DataHeader) error {
	var buf [DataHeaderLen]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Opr))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Flags))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.Offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.Length))
	return writeFullData(w, buf[:], "data header")
}

// ReadDataHeader reads and validates a DataHeader.
func ReadDataHeader(r io.Reader) (DataHeader, error) {
	var h DataHeader
	var buf [DataHeaderLen]byte
	if err := readFullData(r, buf[:], "data header"); err != nil {
		return h, err
	}
	h.Opr = int32(binary.BigEndian.Uint32(buf[0:4]))
	h.Flags = int32(binary.BigEndian.Uint32(buf[4:8]))
	h.Offset = int64(binary.BigEndian.Uint64(buf[8:16]))
	h.Length = int64(binary.BigEndian.Uint64(buf[16:24]))
	if h.Offset < 0 || h.Length < 0 {
		return h, fault.Newf(fault.ProtocolViolation, "read data header", "negative range %d+%d", h.Offset, h.Length)
	}
	return h, nil
}

func readFullData(r io.Reader, buf []byte, op string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrapf(err, "data socket read %s", op)
	}
	return nil
}

func writeFullData(w io.Writer, buf []byte, op string) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return errors.Wrapf(err, "data socket write %s", op)
		}
		written += n
	}
	return nil
}

func readUint32Data(r io.Reader, op string) (uint32, error) {
	var buf [4]byte
	if err := readFullData(r, buf[:], op); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeUint32Data(w io.Writer, value uint32, op string) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return writeFullData(w, buf[:], op)
}
