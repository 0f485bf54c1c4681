package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tekkamanendless/rosbag-extractor/bag"
	"github.com/tekkamanendless/rosbag-extractor/bag/bagtest"
	"github.com/tekkamanendless/rosbag-extractor/frame"
	"github.com/tekkamanendless/rosbag-extractor/rosmsg"
	"github.com/tekkamanendless/rosbag-extractor/video"
)

const (
	cameraTopic = "/camera/image_raw"
	baseTime    = int64(1700000000000000000)
)

var testTopics = []bagtest.Topic{
	{Name: cameraTopic, Type: rosmsg.TypeImage},
	{Name: "/camera/compressed", Type: rosmsg.TypeCompressedImage},
	{Name: "/depth", Type: rosmsg.TypeImage},
	{Name: "/imu", Type: "sensor_msgs/msg/Imu"},
	{Name: "/quiet", Type: rosmsg.TypeImage},
}

func writeBag(t *testing.T, messages []bagtest.Message, options bagtest.Options) string {
	t.Helper()
	return bagtest.WriteBag(t, filepath.Join(t.TempDir(), "test_bag"), testTopics, messages, options)
}

func newExtractor(t *testing.T, config Config, options ...Option) *Extractor {
	t.Helper()
	if config.Codec == "" {
		config.Codec = video.CodecMJPG
	}
	if config.FPS == 0 {
		config.FPS = DefaultFPS
	}
	extractor, err := New(config, options...)
	require.NoError(t, err)
	return extractor
}

func listDirectory(t *testing.T, directory string) []string {
	t.Helper()
	entries, err := os.ReadDir(directory)
	require.NoError(t, err)
	names := []string{}
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestExtractScenario(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 33_333_333, 120, 640, 480)
	messages = append(messages, bagtest.Message{Topic: "/imu", Timestamp: baseTime + 5, Data: []byte{1, 2, 3}})
	bagPath := writeBag(t, messages, bagtest.Options{})

	output := filepath.Join(t.TempDir(), "videos", "camera.avi")
	extractor := newExtractor(t, Config{Topic: cameraTopic, Output: output, FPS: 30})

	result, err := extractor.Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Equal(t, output, result.Output)
	assert.Equal(t, 120, result.Frames)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, 480, result.Height)
	assert.Equal(t, 30.0, result.FPS)
	assert.Equal(t, 4*time.Second, result.Duration)

	info, err := video.Probe(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, 120, info.Frames)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, 4*time.Second, info.Duration)

	assert.Equal(t, []string{"camera.avi"}, listDirectory(t, filepath.Dir(output)))
}

func TestExtractMCAP(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 10, 32, 24)
	bagPath := writeBag(t, messages, bagtest.Options{Storage: "mcap", Split: 2})

	output := filepath.Join(t.TempDir(), "camera.avi")
	result, err := newExtractor(t, Config{Topic: cameraTopic, Output: output, FPS: 10}).Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Frames)
	assert.Equal(t, time.Second, result.Duration)
}

func TestExtractUnsupportedEncoding(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 5, 16, 16)
	messages[3].Data = bagtest.ImageMessage(messages[3].Timestamp, "yuv422", 16, 16, 2, func(x int, y int) []byte {
		return []byte{128, 128}
	})
	bagPath := writeBag(t, messages, bagtest.Options{})

	directory := t.TempDir()
	extractor := newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(directory, "out.avi")})
	_, err := extractor.Extract(context.Background(), bagPath)
	require.Error(t, err)

	var decodeError *DecodeError
	require.True(t, errors.As(err, &decodeError), "%v", err)
	assert.Equal(t, 3, decodeError.Index)
	assert.Equal(t, messages[3].Timestamp, decodeError.Timestamp)
	assert.ErrorIs(t, err, frame.ErrUnsupportedEncoding)

	assert.Empty(t, listDirectory(t, directory))
}

func TestExtractCorruptPayload(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 3, 16, 16)
	messages[0].Data = messages[0].Data[:20]
	bagPath := writeBag(t, messages, bagtest.Options{})

	directory := t.TempDir()
	_, err := newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(directory, "out.avi")}).Extract(context.Background(), bagPath)
	var decodeError *DecodeError
	require.True(t, errors.As(err, &decodeError), "%v", err)
	assert.Equal(t, 0, decodeError.Index)
	assert.ErrorIs(t, err, rosmsg.ErrTruncated)
	assert.Empty(t, listDirectory(t, directory))
}

func TestExtractCorruptDimensions(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 3, 16, 16)
	messages[1].Data = rosmsg.EncodeImage(&rosmsg.Image{
		Height:   0xFFFFFFFF,
		Width:    0xFFFFFFFF,
		Encoding: frame.EncodingMono8,
		Data:     []byte{0},
	})
	bagPath := writeBag(t, messages, bagtest.Options{})

	directory := t.TempDir()
	var err error
	require.NotPanics(t, func() {
		_, err = newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(directory, "out.avi")}).Extract(context.Background(), bagPath)
	})
	var decodeError *DecodeError
	require.True(t, errors.As(err, &decodeError), "%v", err)
	assert.Equal(t, 1, decodeError.Index)
	assert.ErrorIs(t, err, frame.ErrShortBuffer)
	assert.Empty(t, listDirectory(t, directory))
}

func TestExtractFrameSizeChange(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 3, 16, 8)
	messages = append(messages, bagtest.ImageMessages(cameraTopic, baseTime+300_000_000, 100_000_000, 2, 32, 8)...)
	bagPath := writeBag(t, messages, bagtest.Options{})

	directory := t.TempDir()
	_, err := newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(directory, "out.avi")}).Extract(context.Background(), bagPath)
	var decodeError *DecodeError
	require.True(t, errors.As(err, &decodeError), "%v", err)
	assert.Equal(t, 3, decodeError.Index)
	assert.ErrorIs(t, err, video.ErrFrameSizeMismatch)
	assert.Empty(t, listDirectory(t, directory))
}

func TestExtractTopicErrors(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 2, 8, 8)
	messages = append(messages, bagtest.Message{Topic: "/imu", Timestamp: baseTime, Data: []byte{1}})
	bagPath := writeBag(t, messages, bagtest.Options{})
	output := filepath.Join(t.TempDir(), "out.avi")

	for _, test := range []struct {
		topic    string
		expected error
	}{
		{"/missing", ErrTopicNotFound},
		{"/imu", ErrUnsupportedType},
		{"/quiet", ErrNoFrames},
	} {
		t.Run(test.topic, func(t *testing.T) {
			_, err := newExtractor(t, Config{Topic: test.topic, Output: output}).Extract(context.Background(), bagPath)
			assert.ErrorIs(t, err, test.expected)
			assert.NoFileExists(t, output)
		})
	}

	_, err := newExtractor(t, Config{Topic: cameraTopic, Output: output}).Extract(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, bag.ErrNotFound)
}

func TestExtractCompressedImages(t *testing.T) {
	messages := []bagtest.Message{}
	for i := 0; i < 4; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 12, 10))
		for y := 0; y < 10; y++ {
			for x := 0; x < 12; x++ {
				img.Set(x, y, color.RGBA{R: uint8(i * 50), G: uint8(x * 20), B: uint8(y * 20), A: 255})
			}
		}
		var buffer bytes.Buffer
		require.NoError(t, png.Encode(&buffer, img))
		timestamp := baseTime + int64(i)*50_000_000
		messages = append(messages, bagtest.Message{
			Topic:     "/camera/compressed",
			Timestamp: timestamp,
			Data: rosmsg.EncodeCompressedImage(&rosmsg.CompressedImage{
				Header: rosmsg.Header{Sec: int32(timestamp / 1e9), Nanosec: uint32(timestamp % 1e9)},
				Format: "png",
				Data:   buffer.Bytes(),
			}),
		})
	}
	bagPath := writeBag(t, messages, bagtest.Options{Compression: bagtest.CompressionMessage})

	output := filepath.Join(t.TempDir(), "compressed.avi")
	result, err := newExtractor(t, Config{Topic: "/camera/compressed", Output: output, FPS: 20}).Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Frames)
	assert.Equal(t, 12, result.Width)
	assert.Equal(t, 10, result.Height)
	assert.Equal(t, 200*time.Millisecond, result.Duration)
}

func TestExtractDepth(t *testing.T) {
	messages := []bagtest.Message{}
	for i := 0; i < 3; i++ {
		timestamp := baseTime + int64(i)*100_000_000
		messages = append(messages, bagtest.Message{
			Topic:     "/depth",
			Timestamp: timestamp,
			Data: bagtest.ImageMessage(timestamp, frame.Encoding16UC1, 8, 6, 2, func(x int, y int) []byte {
				value := uint16(x * 100)
				return []byte{byte(value), byte(value >> 8)}
			}),
		})
	}
	bagPath := writeBag(t, messages, bagtest.Options{})

	result, err := newExtractor(t, Config{Topic: "/depth", Output: filepath.Join(t.TempDir(), "depth.avi")}).Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Frames)
	assert.Equal(t, 8, result.Width)
	assert.Equal(t, 6, result.Height)
}

func TestExtractCanceled(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 3, 8, 8)
	bagPath := writeBag(t, messages, bagtest.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	directory := t.TempDir()
	_, err := newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(directory, "out.avi")}).Extract(ctx, bagPath)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listDirectory(t, directory))
}

func TestExtractOverwrites(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 3, 8, 8)
	bagPath := writeBag(t, messages, bagtest.Options{})

	output := filepath.Join(t.TempDir(), "out.avi")
	require.NoError(t, os.WriteFile(output, []byte("old"), 0644))

	_, err := newExtractor(t, Config{Topic: cameraTopic, Output: output}).Extract(context.Background(), bagPath)
	require.NoError(t, err)
	info, err := video.Probe(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Frames)
}

func TestExtractProgress(t *testing.T) {
	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 5, 8, 8)
	bagPath := writeBag(t, messages, bagtest.Options{})

	var progress bytes.Buffer
	extractor := newExtractor(t, Config{Topic: cameraTopic, Output: filepath.Join(t.TempDir(), "out.avi")}, WithProgress(&progress))
	_, err := extractor.Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Contains(t, progress.String(), "Processing")
}

func TestDefaultOutputPath(t *testing.T) {
	original := DefaultOutputDirectory
	defer func() { DefaultOutputDirectory = original }()
	DefaultOutputDirectory = filepath.Join(t.TempDir(), "data")

	messages := bagtest.ImageMessages(cameraTopic, baseTime, 100_000_000, 2, 8, 8)
	bagPath := writeBag(t, messages, bagtest.Options{})

	extractor := newExtractor(t, Config{Topic: cameraTopic})
	expected := filepath.Join(DefaultOutputDirectory, "test_bag_camera-image_raw.avi")
	assert.Equal(t, expected, extractor.OutputPath(bagPath))
	assert.Equal(t, expected, extractor.OutputPath(bagPath+"/"))
	assert.Equal(t, filepath.Join(DefaultOutputDirectory, "single_camera-image_raw.avi"), extractor.OutputPath("/somewhere/single.db3"))

	result, err := extractor.Extract(context.Background(), bagPath)
	require.NoError(t, err)
	assert.Equal(t, expected, result.Output)
	assert.FileExists(t, expected)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Topic: cameraTopic, FPS: 0, Codec: video.CodecMJPG})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Topic: cameraTopic, FPS: -5, Codec: video.CodecMJPG})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{FPS: 30, Codec: video.CodecMJPG})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Topic: cameraTopic, FPS: 30, Codec: "theora"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, video.ErrUnknownCodec)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	_, err = New(Config{Topic: cameraTopic, FPS: 30, Codec: video.CodecMJPG, Output: filepath.Join(blocker, "out.avi")})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	original := video.FFmpegPath
	defer func() { video.FFmpegPath = original }()
	video.FFmpegPath = "ffmpeg-that-does-not-exist"
	_, err = New(Config{Topic: cameraTopic, FPS: 30, Codec: video.CodecMP4V})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, video.ErrEncoderUnavailable)

	extractor, err := New(Config{Topic: cameraTopic, FPS: 12.5, Codec: "MJPEG"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, extractor.Config().FPS)
}

func TestDecodeErrorMessage(t *testing.T) {
	err := &DecodeError{Index: 7, Timestamp: baseTime, Err: frame.ErrShortBuffer}
	assert.Equal(t, "could not decode message 7 (2023-11-14T22:13:20Z): pixel buffer too short", err.Error())
	assert.ErrorIs(t, err, frame.ErrShortBuffer)
}
