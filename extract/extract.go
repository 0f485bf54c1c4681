// Package extract turns an image topic of a bag into a video.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tekkamanendless/rosbag-extractor/bag"
	"github.com/tekkamanendless/rosbag-extractor/frame"
	"github.com/tekkamanendless/rosbag-extractor/rosmsg"
	"github.com/tekkamanendless/rosbag-extractor/video"
)

// DefaultOutputDirectory is where videos go when no output path is given.
var DefaultOutputDirectory = "data"

// Result describes a finished video.
type Result struct {
	Output   string
	Frames   int
	Width    int // The encoded size; see video.Codec.EncodedSize.
	Height   int
	FPS      float64
	Duration time.Duration // Frames / FPS.
}

// Extractor writes videos according to a validated configuration.
type Extractor struct {
	config   Config
	codec    *video.Codec
	progress io.Writer
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithProgress shows a progress bar on the given writer.
func WithProgress(writer io.Writer) Option {
	return func(e *Extractor) {
		e.progress = writer
	}
}

// New validates the configuration and returns an extractor for it.
//
// The codec must be known and usable on this system, and an explicit output path
// must be in a directory that can be written to.
func New(config Config, options ...Option) (*Extractor, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	codec, err := video.LookupCodec(config.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	err = codec.Available()
	if err != nil {
		return nil, fmt.Errorf("%w: codec %s: %w", ErrInvalidConfig, codec.Name, err)
	}

	if config.Output != "" {
		err = video.CheckOutputDirectory(config.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	e := &Extractor{
		config: config,
		codec:  codec,
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// Config returns the configuration.
func (e *Extractor) Config() Config {
	return e.config
}

// OutputPath returns where the video for the given bag will be written.
//
// Without an explicit output, this is "<bag>_<topic>.<ext>" in DefaultOutputDirectory,
// with the topic's slashes turned into dashes.
func (e *Extractor) OutputPath(bagPath string) string {
	if e.config.Output != "" {
		return e.config.Output
	}
	bagName := filepath.Base(filepath.Clean(bagPath))
	bagName = strings.TrimSuffix(bagName, filepath.Ext(bagName))
	topicName := strings.ReplaceAll(strings.TrimLeft(e.config.Topic, "/"), "/", "-")
	return filepath.Join(DefaultOutputDirectory, bagName+"_"+topicName+e.codec.Extension)
}

// Extract writes the video for the configured topic of the given bag.
//
// Any failure leaves nothing at the output path.
func (e *Extractor) Extract(ctx context.Context, bagPath string) (*Result, error) {
	b, err := bag.Open(bagPath)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	connections := b.ConnectionsForTopic(e.config.Topic)
	if len(connections) == 0 {
		topics := []string{}
		for _, connection := range b.Connections() {
			topics = append(topics, connection.Topic)
		}
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrTopicNotFound, e.config.Topic, strings.Join(topics, ", "))
	}
	var total uint64
	for _, connection := range connections {
		if !rosmsg.IsImageType(connection.Type) {
			return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedType, connection.Topic, connection.Type)
		}
		total += connection.MessageCount
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %s has no messages", ErrNoFrames, e.config.Topic)
	}

	output := e.OutputPath(bagPath)
	err = video.CheckOutputDirectory(output)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(output); err == nil {
		logger.Warnf("Overwriting %s.", output)
	}

	iterator, err := b.Messages(connections...)
	if err != nil {
		return nil, fmt.Errorf("could not read messages: %w", err)
	}
	defer iterator.Close()

	var bar *progressbar.ProgressBar
	if e.progress != nil {
		bar = progressbar.NewOptions64(int64(total),
			progressbar.OptionSetWriter(e.progress),
			progressbar.OptionSetDescription("Processing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(e.progress)
			}),
		)
	}

	var writer *video.Writer
	abort := func(err error) (*Result, error) {
		if writer != nil {
			abortErr := writer.Abort()
			if abortErr != nil {
				logger.Debugf("Could not abort the encoder: %v", abortErr)
			}
		}
		return nil, err
	}

	var width, height int
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		message, err := iterator.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(fmt.Errorf("could not read message %d: %w", index, err))
		}

		f, err := decodeFrame(index, message)
		if err != nil {
			return abort(&DecodeError{Index: index, Timestamp: message.Timestamp, Err: err})
		}

		if writer == nil {
			logger.Debugf("topic: %q", e.config.Topic)
			logger.Debugf("output: %s", output)
			logger.Debugf("fps: %v", e.config.FPS)
			logger.Debugf("width: %d", f.Width())
			logger.Debugf("height: %d", f.Height())

			width, height = e.codec.EncodedSize(f.Width(), f.Height())
			if width != f.Width() || height != f.Height() {
				logger.Warnf("Padding %dx%d frames to %dx%d for %s.", f.Width(), f.Height(), width, height, e.codec.Name)
			}
			writer, err = video.Create(ctx, e.codec, output, f.Width(), f.Height(), e.config.FPS)
			if err != nil {
				return abort(fmt.Errorf("could not create video: %w", err))
			}
		}
		err = writer.WriteFrame(f.Image)
		if err != nil {
			if errors.Is(err, video.ErrFrameSizeMismatch) {
				return abort(&DecodeError{Index: index, Timestamp: message.Timestamp, Err: err})
			}
			return abort(fmt.Errorf("could not write frame %d: %w", index, err))
		}

		if bar != nil {
			bar.Add(1)
		}
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFrames, e.config.Topic)
	}

	result := &Result{
		Output:   output,
		Frames:   writer.Frames(),
		Width:    width,
		Height:   height,
		FPS:      e.config.FPS,
		Duration: writer.Duration(),
	}
	err = writer.Close()
	if err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}
	return result, nil
}

// decodeFrame deserializes an image message and decodes its pixels.
func decodeFrame(index int, message *bag.Message) (*frame.Frame, error) {
	f := &frame.Frame{
		Index:     index,
		Timestamp: message.Timestamp,
	}

	switch message.Connection.Type {
	case rosmsg.TypeImage:
		image, err := rosmsg.DecodeImage(message.Data)
		if err != nil {
			return nil, err
		}
		f.Encoding = image.Encoding
		f.Image, err = frame.Decode(image.Encoding, image.Data, int(image.Width), int(image.Height), int(image.Step), image.IsBigEndian)
		if err != nil {
			return nil, err
		}
	case rosmsg.TypeCompressedImage:
		image, err := rosmsg.DecodeCompressedImage(message.Data)
		if err != nil {
			return nil, err
		}
		f.Encoding = image.Format
		f.Image, err = frame.DecodeCompressed(image.Format, image.Data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, message.Connection.Type)
	}
	return f, nil
}
