package video

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Writer writes frames to a video file.
//
// The video is built in a hidden partial file next to the destination; Close
// renames it into place and Abort removes it.
type Writer struct {
	codec   *Codec
	encoder encoder
	path    string
	partial string
	width   int
	height  int
	fps     float64
	frames  int
	done    bool
}

// Create starts a new video at the given path.
//
// Every frame must be width x height pixels.
func Create(ctx context.Context, codec *Codec, path string, width int, height int, fps float64) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}
	err := codec.Available()
	if err != nil {
		return nil, err
	}

	partial := PartialPath(path)
	enc, err := codec.create(ctx, partial, width, height, fps)
	if err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("could not start %s encoder: %w", codec.Name, err)
	}
	logger.Debugf("Writing %s video to %s (partial: %s)", codec.Name, path, partial)

	return &Writer{
		codec:   codec,
		encoder: enc,
		path:    path,
		partial: partial,
		width:   width,
		height:  height,
		fps:     fps,
	}, nil
}

// PartialPath returns a unique hidden file name in the same directory as path.
func PartialPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".partial")
}

// Path returns the final path of the video.
func (w *Writer) Path() string {
	return w.path
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int {
	return w.frames
}

// Duration returns the nominal duration of the frames written so far.
func (w *Writer) Duration() time.Duration {
	return frameTime(w.frames, w.fps)
}

// WriteFrame appends a frame.
func (w *Writer) WriteFrame(img *image.RGBA) error {
	if w.done {
		return fmt.Errorf("writer is closed")
	}
	bounds := img.Bounds()
	if bounds.Dx() != w.width || bounds.Dy() != w.height {
		return fmt.Errorf("%w: got %dx%d, expected %dx%d", ErrFrameSizeMismatch, bounds.Dx(), bounds.Dy(), w.width, w.height)
	}

	err := w.encoder.WriteFrame(img)
	if err != nil {
		return err
	}
	w.frames++
	return nil
}

// Close finalizes the video and moves it into place.
//
// On failure, nothing is left behind.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	err := w.encoder.Close()
	if err != nil {
		os.Remove(w.partial)
		return fmt.Errorf("could not finalize video: %w", err)
	}
	err = os.Rename(w.partial, w.path)
	if err != nil {
		os.Remove(w.partial)
		return fmt.Errorf("could not move video into place: %w", err)
	}
	logger.Debugf("Wrote %d frames to %s", w.frames, w.path)
	return nil
}

// Abort stops the video and removes the partial file.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	err := w.encoder.Abort()
	removeErr := os.Remove(w.partial)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		logger.Warnf("Could not remove partial file %s: %v", w.partial, removeErr)
	}
	return err
}

// CheckOutputDirectory creates the parent directory of path and makes sure that
// files can be created in it.
func CheckOutputDirectory(path string) error {
	directory := filepath.Dir(path)
	err := os.MkdirAll(directory, 0755)
	if err != nil {
		return fmt.Errorf("could not create directory %s: %w", directory, err)
	}
	handle, err := os.CreateTemp(directory, ".rosbag-extract-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", directory, err)
	}
	handle.Close()
	os.Remove(handle.Name())
	return nil
}
