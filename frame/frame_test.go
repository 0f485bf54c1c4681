package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeColorLayouts(t *testing.T) {
	red := color.RGBA{R: 200, G: 10, B: 20, A: 255}
	rows := []struct {
		encoding string
		pixel    []byte
		expected color.RGBA
	}{
		{EncodingRGB8, []byte{200, 10, 20}, red},
		{EncodingBGR8, []byte{20, 10, 200}, red},
		{Encoding8UC3, []byte{20, 10, 200}, red},
		{EncodingRGBA8, []byte{200, 10, 20, 128}, color.RGBA{R: 200, G: 10, B: 20, A: 128}},
		{EncodingBGRA8, []byte{20, 10, 200, 128}, color.RGBA{R: 200, G: 10, B: 20, A: 128}},
		{EncodingMono8, []byte{77}, color.RGBA{R: 77, G: 77, B: 77, A: 255}},
		{Encoding8UC1, []byte{77}, color.RGBA{R: 77, G: 77, B: 77, A: 255}},
	}
	for _, row := range rows {
		t.Run(row.encoding, func(t *testing.T) {
			data := []byte{}
			for i := 0; i < 6; i++ {
				data = append(data, row.pixel...)
			}
			img, err := Decode(row.encoding, data, 3, 2, 0, false)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
			assert.Equal(t, row.expected, img.RGBAAt(0, 0))
			assert.Equal(t, row.expected, img.RGBAAt(2, 1))
		})
	}
}

func TestDecodeHonorsStep(t *testing.T) {
	// 2x2 mono8 with two bytes of row padding.
	data := []byte{
		1, 2, 0xee, 0xee,
		3, 4,
	}
	img, err := Decode(EncodingMono8, data, 2, 2, 4, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), img.RGBAAt(1, 0).R)
	assert.Equal(t, uint8(3), img.RGBAAt(0, 1).R)
	assert.Equal(t, uint8(4), img.RGBAAt(1, 1).R)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("yuv422", make([]byte, 16), 2, 2, 0, false)
	assert.True(t, errors.Is(err, ErrUnsupportedEncoding), "%v", err)

	_, err = Decode(EncodingRGB8, make([]byte, 11), 2, 2, 0, false)
	assert.True(t, errors.Is(err, ErrShortBuffer), "%v", err)

	_, err = Decode(EncodingRGB8, make([]byte, 12), 2, 2, 5, false)
	assert.Error(t, err)

	_, err = Decode(EncodingRGB8, nil, 0, 2, 0, false)
	assert.Error(t, err)
}

func TestDecodeHugeDimensions(t *testing.T) {
	rows := []struct {
		name   string
		width  int
		height int
		step   int
	}{
		{"max uint32", 0xFFFFFFFF, 0xFFFFFFFF, 0},
		{"wide", 0xFFFFFFFF, 1, 0},
		{"tall", 1, 0xFFFFFFFF, 0},
		{"huge step", 1, 2, 0xFFFFFFFF},
	}
	for _, encoding := range []string{EncodingMono8, EncodingRGB8, EncodingMono16, Encoding16UC1} {
		for _, row := range rows {
			t.Run(encoding+"/"+row.name, func(t *testing.T) {
				var img *image.RGBA
				var err error
				require.NotPanics(t, func() {
					img, err = Decode(encoding, []byte{0, 0, 0, 0}, row.width, row.height, row.step, false)
				})
				assert.Nil(t, img)
				assert.True(t, errors.Is(err, ErrShortBuffer), "%v", err)
			})
		}
	}
}

func TestDecodeMono16Endianness(t *testing.T) {
	little := binary.LittleEndian.AppendUint16(nil, 0xab12)
	img, err := Decode(EncodingMono16, little, 1, 1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), img.RGBAAt(0, 0).R)

	big := binary.BigEndian.AppendUint16(nil, 0xab12)
	img, err = Decode(EncodingMono16, big, 1, 1, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), img.RGBAAt(0, 0).R)
}

func TestDecodeDepth16(t *testing.T) {
	data := []byte{}
	for _, value := range []uint16{0, 1000, 3000} {
		data = binary.LittleEndian.AppendUint16(data, value)
	}
	img, err := Decode(Encoding16UC1, data, 3, 1, 0, false)
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(0, 0), "zero depth is black")

	r, g, b := Jet(1)
	assert.Equal(t, color.RGBA{R: r, G: g, B: b, A: 255}, img.RGBAAt(2, 0), "maximum depth is the top of the colormap")

	middle := img.RGBAAt(1, 0)
	assert.NotEqual(t, img.RGBAAt(2, 0), middle)
}

func TestJet(t *testing.T) {
	r, g, b := Jet(0)
	assert.Equal(t, []uint8{0, 0, 128}, []uint8{r, g, b})
	r, g, b = Jet(0.5)
	assert.Equal(t, []uint8{128, 255, 128}, []uint8{r, g, b})
	r, g, b = Jet(1)
	assert.Equal(t, []uint8{128, 0, 0}, []uint8{r, g, b})
	r, g, b = Jet(7)
	assert.Equal(t, []uint8{128, 0, 0}, []uint8{r, g, b})
}

func TestRegister(t *testing.T) {
	called := false
	Register("test-encoding", func(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
		called = true
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	})
	defer func() {
		decodersLock.Lock()
		delete(decoders, "test-encoding")
		decodersLock.Unlock()
	}()

	assert.Contains(t, Encodings(), "test-encoding")
	img, err := Decode("test-encoding", nil, 4, 3, 0, false)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestDecodeCompressed(t *testing.T) {
	source := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	source.Set(1, 2, color.NRGBA{R: 255, A: 255})
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, source))

	img, err := DecodeCompressed("bgr8; png compressed bgr8", buffer.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 4), img.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(1, 2))

	_, err = DecodeCompressed("jpeg", []byte("not an image"))
	assert.Error(t, err)

	_, err = DecodeCompressed("16UC1; compressedDepth", buffer.Bytes())
	assert.True(t, errors.Is(err, ErrUnsupportedEncoding))
}

func TestFrameAccessors(t *testing.T) {
	f := &Frame{Timestamp: 1_500_000_000, Image: image.NewRGBA(image.Rect(0, 0, 8, 6))}
	assert.Equal(t, 8, f.Width())
	assert.Equal(t, 6, f.Height())
	assert.Equal(t, int64(1), f.Time().Unix())
}
