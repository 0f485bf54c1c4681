package rosmsg

import (
	"fmt"
	"time"
)

// Message types that carry images.
const (
	TypeImage           = "sensor_msgs/msg/Image"
	TypeCompressedImage = "sensor_msgs/msg/CompressedImage"
)

// IsImageType returns true if the given message type is one that we can turn into frames.
func IsImageType(messageType string) bool {
	switch messageType {
	case TypeImage, TypeCompressedImage:
		return true
	}
	return false
}

// Header is a `std_msgs/msg/Header`.
type Header struct {
	Sec     int32
	Nanosec uint32
	FrameID string
}

// Time returns the stamp as a `time.Time`.
func (h Header) Time() time.Time {
	return time.Unix(int64(h.Sec), int64(h.Nanosec))
}

// Image is a `sensor_msgs/msg/Image`.
type Image struct {
	Header      Header
	Height      uint32
	Width       uint32
	Encoding    string
	IsBigEndian bool
	Step        uint32
	Data        []byte
}

// CompressedImage is a `sensor_msgs/msg/CompressedImage`.
type CompressedImage struct {
	Header Header
	Format string
	Data   []byte
}

func readHeader(r *Reader) (Header, error) {
	var header Header
	var err error
	header.Sec, err = r.ReadInt32()
	if err != nil {
		return header, fmt.Errorf("could not read header.stamp.sec: %w", err)
	}
	header.Nanosec, err = r.ReadUint32()
	if err != nil {
		return header, fmt.Errorf("could not read header.stamp.nanosec: %w", err)
	}
	header.FrameID, err = r.ReadString()
	if err != nil {
		return header, fmt.Errorf("could not read header.frame_id: %w", err)
	}
	return header, nil
}

func writeHeader(w *Writer, header Header) {
	w.WriteInt32(header.Sec)
	w.WriteUint32(header.Nanosec)
	w.WriteString(header.FrameID)
}

// DecodeImage decodes a CDR-serialized `sensor_msgs/msg/Image`.
//
// The returned image's data aliases the payload.
func DecodeImage(payload []byte) (*Image, error) {
	r, err := NewReader(payload)
	if err != nil {
		return nil, err
	}

	image := &Image{}
	image.Header, err = readHeader(r)
	if err != nil {
		return nil, err
	}
	image.Height, err = r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("could not read height: %w", err)
	}
	image.Width, err = r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("could not read width: %w", err)
	}
	image.Encoding, err = r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("could not read encoding: %w", err)
	}
	isBigEndian, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("could not read is_bigendian: %w", err)
	}
	image.IsBigEndian = isBigEndian != 0
	image.Step, err = r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("could not read step: %w", err)
	}
	image.Data, err = r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("could not read data: %w", err)
	}
	return image, nil
}

// EncodeImage serializes a `sensor_msgs/msg/Image` as little-endian CDR.
func EncodeImage(image *Image) []byte {
	w := NewWriter()
	writeHeader(w, image.Header)
	w.WriteUint32(image.Height)
	w.WriteUint32(image.Width)
	w.WriteString(image.Encoding)
	if image.IsBigEndian {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
	w.WriteUint32(image.Step)
	w.WriteBytes(image.Data)
	return w.Payload()
}

// DecodeCompressedImage decodes a CDR-serialized `sensor_msgs/msg/CompressedImage`.
func DecodeCompressedImage(payload []byte) (*CompressedImage, error) {
	r, err := NewReader(payload)
	if err != nil {
		return nil, err
	}

	image := &CompressedImage{}
	image.Header, err = readHeader(r)
	if err != nil {
		return nil, err
	}
	image.Format, err = r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("could not read format: %w", err)
	}
	image.Data, err = r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("could not read data: %w", err)
	}
	return image, nil
}

// EncodeCompressedImage serializes a `sensor_msgs/msg/CompressedImage` as little-endian CDR.
func EncodeCompressedImage(image *CompressedImage) []byte {
	w := NewWriter()
	writeHeader(w, image.Header)
	w.WriteString(image.Format)
	w.WriteBytes(image.Data)
	return w.Payload()
}
