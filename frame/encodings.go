package frame

import (
	"encoding/binary"
	"image"
	"math"
)

// Pixel encoding names, as used by `sensor_msgs/msg/Image`.
const (
	EncodingRGB8   = "rgb8"
	EncodingBGR8   = "bgr8"
	EncodingRGBA8  = "rgba8"
	EncodingBGRA8  = "bgra8"
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	Encoding8UC1   = "8UC1"
	Encoding8UC3   = "8UC3"
	Encoding16UC1  = "16UC1"
	Encoding32FC1  = "32FC1"
)

func init() {
	Register(EncodingRGB8, decodeRGB8)
	Register(EncodingBGR8, decodeBGR8)
	Register(Encoding8UC3, decodeBGR8) // OpenCV channel order.
	Register(EncodingRGBA8, decodeRGBA8)
	Register(EncodingBGRA8, decodeBGRA8)
	Register(EncodingMono8, decodeMono8)
	Register(Encoding8UC1, decodeMono8)
	Register(EncodingMono16, decodeMono16)
	Register(Encoding16UC1, decodeDepth16)
	Register(Encoding32FC1, decodeDepth32F)
}

// decodeChannels handles the 8-bit color layouts; offsets are the R, G and B
// positions within a pixel and alpha is the alpha position (or -1).
func decodeChannels(data []byte, width int, height int, step int, bytesPerPixel int, r int, g int, b int, alpha int) (*image.RGBA, error) {
	step, err := rowStep(data, width, height, step, bytesPerPixel)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*step:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			pixel := row[x*bytesPerPixel:]
			out[x*4+0] = pixel[r]
			out[x*4+1] = pixel[g]
			out[x*4+2] = pixel[b]
			if alpha >= 0 {
				out[x*4+3] = pixel[alpha]
			} else {
				out[x*4+3] = 0xff
			}
		}
	}
	return img, nil
}

func decodeRGB8(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	return decodeChannels(data, width, height, step, 3, 0, 1, 2, -1)
}

func decodeBGR8(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	return decodeChannels(data, width, height, step, 3, 2, 1, 0, -1)
}

func decodeRGBA8(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	return decodeChannels(data, width, height, step, 4, 0, 1, 2, 3)
}

func decodeBGRA8(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	return decodeChannels(data, width, height, step, 4, 2, 1, 0, 3)
}

func decodeMono8(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	return decodeChannels(data, width, height, step, 1, 0, 0, 0, -1)
}

func byteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// decodeMono16 keeps the high byte of each sample.
func decodeMono16(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	step, err := rowStep(data, width, height, step, 2)
	if err != nil {
		return nil, err
	}
	order := byteOrder(bigEndian)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*step:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			value := uint8(order.Uint16(row[x*2:]) >> 8)
			out[x*4+0] = value
			out[x*4+1] = value
			out[x*4+2] = value
			out[x*4+3] = 0xff
		}
	}
	return img, nil
}

// decodeDepth16 normalizes the samples to their min/max range and colors them with
// the jet colormap.  Zero (no return) is painted black.
func decodeDepth16(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	step, err := rowStep(data, width, height, step, 2)
	if err != nil {
		return nil, err
	}
	order := byteOrder(bigEndian)
	values := make([]float64, width*height)
	for y := 0; y < height; y++ {
		row := data[y*step:]
		for x := 0; x < width; x++ {
			values[y*width+x] = float64(order.Uint16(row[x*2:]))
		}
	}
	return colorizeDepth(values, width, height), nil
}

// decodeDepth32F is like decodeDepth16 for floating point depth; NaN and infinities
// are painted black along with zero.
func decodeDepth32F(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	step, err := rowStep(data, width, height, step, 4)
	if err != nil {
		return nil, err
	}
	order := byteOrder(bigEndian)
	values := make([]float64, width*height)
	for y := 0; y < height; y++ {
		row := data[y*step:]
		for x := 0; x < width; x++ {
			value := float64(math.Float32frombits(order.Uint32(row[x*4:])))
			if math.IsNaN(value) || math.IsInf(value, 0) {
				value = 0
			}
			values[y*width+x] = value
		}
	}
	return colorizeDepth(values, width, height), nil
}

func colorizeDepth(values []float64, width int, height int) *image.RGBA {
	minimum, maximum := math.Inf(1), math.Inf(-1)
	for _, value := range values {
		minimum = math.Min(minimum, value)
		maximum = math.Max(maximum, value)
	}
	span := maximum - minimum

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, value := range values {
		out := img.Pix[(i/width)*img.Stride+(i%width)*4:]
		out[3] = 0xff
		if value == 0 {
			continue
		}
		normalized := 0.0
		if span > 0 {
			normalized = (value - minimum) / span
		}
		out[0], out[1], out[2] = Jet(normalized)
	}
	return img
}

// Jet maps a value in [0, 1] to the jet colormap (blue, cyan, yellow, red).
func Jet(value float64) (uint8, uint8, uint8) {
	value = math.Max(0, math.Min(1, value))
	channel := func(center float64) uint8 {
		intensity := 1.5 - math.Abs(4*value-center)
		intensity = math.Max(0, math.Min(1, intensity))
		return uint8(math.Round(intensity * 255))
	}
	return channel(3), channel(2), channel(1)
}
