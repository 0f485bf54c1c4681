package rosmsg

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bigEndianImage builds a big-endian payload by hand, including the padding.
func bigEndianImage() []byte {
	b := []byte{0x00, EncapsulationCDRBigEndian, 0x00, 0x00}
	b = binary.BigEndian.AppendUint32(b, 7)  // sec
	b = binary.BigEndian.AppendUint32(b, 42) // nanosec
	b = binary.BigEndian.AppendUint32(b, 4)  // len("cam") + NUL
	b = append(b, 'c', 'a', 'm', 0)
	b = binary.BigEndian.AppendUint32(b, 1) // height
	b = binary.BigEndian.AppendUint32(b, 2) // width
	b = binary.BigEndian.AppendUint32(b, 6) // len("mono8") + NUL
	b = append(b, 'm', 'o', 'n', 'o', '8', 0)
	// is_bigendian, then padding up to the step.
	b = append(b, 1, 0)
	b = binary.BigEndian.AppendUint32(b, 2) // step
	b = binary.BigEndian.AppendUint32(b, 2) // data length
	b = append(b, 10, 20)
	return b
}

func TestDecodeImageBigEndian(t *testing.T) {
	image, err := DecodeImage(bigEndianImage())
	require.NoError(t, err)

	expected := &Image{
		Header:      Header{Sec: 7, Nanosec: 42, FrameID: "cam"},
		Height:      1,
		Width:       2,
		Encoding:    "mono8",
		IsBigEndian: true,
		Step:        2,
		Data:        []byte{10, 20},
	}
	if diff := cmp.Diff(expected, image); diff != "" {
		t.Errorf("unexpected image (-want +got):\n%s", diff)
	}
}

func TestImageRoundTrip(t *testing.T) {
	original := &Image{
		Header:   Header{Sec: 1700000000, Nanosec: 5, FrameID: "camera_optical_frame"},
		Height:   2,
		Width:    3,
		Encoding: "rgb8",
		Step:     9,
		Data:     make([]byte, 18),
	}
	for i := range original.Data {
		original.Data[i] = byte(i)
	}

	decoded, err := DecodeImage(EncodeImage(original))
	require.NoError(t, err)
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("unexpected image (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(1700000000), decoded.Header.Time().Unix())
}

func TestCompressedImageRoundTrip(t *testing.T) {
	original := &CompressedImage{
		Header: Header{Sec: 3, FrameID: "f"},
		Format: "jpeg",
		Data:   []byte{0xff, 0xd8, 0xff, 0xd9},
	}
	decoded, err := DecodeCompressedImage(EncodeCompressedImage(original))
	require.NoError(t, err)
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("unexpected image (-want +got):\n%s", diff)
	}
}

func TestDecodeImageTruncated(t *testing.T) {
	payload := EncodeImage(&Image{Height: 1, Width: 1, Encoding: "mono8", Step: 1, Data: []byte{1}})
	for _, length := range []int{0, 3, 8, 20, len(payload) - 1} {
		_, err := DecodeImage(payload[:length])
		require.Error(t, err, "length %d", length)
		assert.True(t, errors.Is(err, ErrTruncated), "length %d: %v", length, err)
	}
}

func TestDecodeImageBadEncapsulation(t *testing.T) {
	_, err := DecodeImage([]byte{0x00, 0x07, 0x00, 0x00, 0, 0, 0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encapsulation")
}

func TestIsImageType(t *testing.T) {
	assert.True(t, IsImageType(TypeImage))
	assert.True(t, IsImageType(TypeCompressedImage))
	assert.False(t, IsImageType("std_msgs/msg/String"))
	assert.False(t, IsImageType("sensor_msgs/Image"))
}

func TestDecodeRandomPayloads(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 64)
	for i := 0; i < 1000; i++ {
		var payload []byte
		f.Fuzz(&payload)
		if len(payload) > 1 {
			payload[1] = EncapsulationCDRLittleEndian
		}
		assert.NotPanics(t, func() {
			DecodeImage(payload)
			DecodeCompressedImage(payload)
		})
	}
}
