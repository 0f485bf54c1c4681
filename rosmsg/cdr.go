package rosmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a payload ends before a field does.
var ErrTruncated = errors.New("truncated payload")

// Encapsulation kinds from the 4-byte CDR header.
const (
	EncapsulationCDRBigEndian    byte = 0x00
	EncapsulationCDRLittleEndian byte = 0x01
)

// encapsulationHeaderSize is the size of the CDR encapsulation header.
const encapsulationHeaderSize = 4

// Reader decodes a CDR payload.
//
// Alignment is relative to the end of the encapsulation header.
type Reader struct {
	data   []byte
	offset int
	order  binary.ByteOrder
}

// NewReader creates a reader, consuming the encapsulation header.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < encapsulationHeaderSize {
		return nil, fmt.Errorf("could not read encapsulation header: %w", ErrTruncated)
	}
	r := &Reader{
		data: data[encapsulationHeaderSize:],
	}
	switch data[1] {
	case EncapsulationCDRLittleEndian:
		r.order = binary.LittleEndian
	case EncapsulationCDRBigEndian:
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported encapsulation kind 0x%02x%02x", data[0], data[1])
	}
	return r, nil
}

func (r *Reader) align(size int) {
	if remainder := r.offset % size; remainder != 0 {
		r.offset += size - remainder
	}
}

func (r *Reader) take(size int) ([]byte, error) {
	if size < 0 || r.offset+size > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.offset : r.offset+size]
	r.offset += size
	return b, nil
}

// ReadUint8 reads an unsigned 8-bit integer.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint32 reads an unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	r.align(4)
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// ReadInt32 reads a signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	value, err := r.ReadUint32()
	return int32(value), err
}

// ReadString reads a string.  The length on the wire includes the NUL terminator.
func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	b, err := r.take(int(length))
	if err != nil {
		return "", err
	}
	if b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// ReadBytes reads a sequence of uint8.
//
// The returned slice aliases the payload.
func (r *Reader) ReadBytes() ([]byte, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(length))
}

// Writer encodes a little-endian CDR payload.
type Writer struct {
	buffer []byte
}

// NewWriter creates a writer and writes the encapsulation header.
func NewWriter() *Writer {
	return &Writer{
		buffer: []byte{0x00, EncapsulationCDRLittleEndian, 0x00, 0x00},
	}
}

func (w *Writer) align(size int) {
	offset := len(w.buffer) - encapsulationHeaderSize
	if remainder := offset % size; remainder != 0 {
		w.buffer = append(w.buffer, make([]byte, size-remainder)...)
	}
}

// WriteUint8 writes an unsigned 8-bit integer.
func (w *Writer) WriteUint8(value uint8) {
	w.buffer = append(w.buffer, value)
}

// WriteUint32 writes an unsigned 32-bit integer.
func (w *Writer) WriteUint32(value uint32) {
	w.align(4)
	w.buffer = binary.LittleEndian.AppendUint32(w.buffer, value)
}

// WriteInt32 writes a signed 32-bit integer.
func (w *Writer) WriteInt32(value int32) {
	w.WriteUint32(uint32(value))
}

// WriteString writes a string with its NUL terminator.
func (w *Writer) WriteString(value string) {
	w.WriteUint32(uint32(len(value) + 1))
	w.buffer = append(w.buffer, value...)
	w.buffer = append(w.buffer, 0)
}

// WriteBytes writes a sequence of uint8.
func (w *Writer) WriteBytes(value []byte) {
	w.WriteUint32(uint32(len(value)))
	w.buffer = append(w.buffer, value...)
}

// Payload returns the encoded payload.
func (w *Writer) Payload() []byte {
	return w.buffer
}
