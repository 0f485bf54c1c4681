package riff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// VideoChunkID is the chunk ID of compressed video frames in stream 0.
const VideoChunkID = "00dc"

// Writer streams an AVI file with a single video stream.
//
// Chunks are written as they arrive; Close writes the index and patches the sizes
// and frame counts in the headers.
type Writer struct {
	writer io.WriteSeeker
	header AVIHeader
	stream AVIStreamHeader
	format AVIStreamVideoFormat

	riffSizeOffset   int64
	avihOffset       int64
	strhOffset       int64
	moviSizeOffset   int64
	moviTypeOffset   int64
	offset           int64
	index            []AVIChunkIndex
	largestChunkSize int32
	closed           bool
}

// NewVideoWriter writes the file headers and returns a writer for the frames.
//
// The frame rate is rate / scale frames per second; compression is the FourCC of
// the frames (for example "MJPG").
func NewVideoWriter(writer io.WriteSeeker, width int32, height int32, rate int32, scale int32, compression [4]byte) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if rate <= 0 || scale <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d/%d", rate, scale)
	}

	w := &Writer{
		writer: writer,
		header: AVIHeader{
			MicroSecPerFrame: int32(int64(1000000) * int64(scale) / int64(rate)),
			Flags:            AVIFlagHasIndex | AVIFlagTrustCKType,
			Streams:          1,
			Width:            width,
			Height:           height,
		},
		stream: AVIStreamHeader{
			Type:        [4]byte{'v', 'i', 'd', 's'},
			Handler:     compression,
			Scale:       scale,
			Rate:        rate, // Effective fps is Rate / Scale; this allows for fractional fps.
			Quality:     -1,
			FrameRight:  clampInt16(width),
			FrameBottom: clampInt16(height),
		},
		format: AVIStreamVideoFormat{
			Width:       width,
			Height:      height,
			Planes:      1,
			BitCount:    24,
			Compression: compression,
			SizeImage:   clampInt32(int64(width) * int64(height) * 3),
		},
	}
	w.format.Size = int32(len(w.format.Bytes()))

	err := w.writeHeaders()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// writeHeaders writes everything up to (and including) the "movi" list header.
func (w *Writer) writeHeaders() error {
	var err error

	// "RIFF" <size> "AVI "
	err = w.writeFourCC("RIFF")
	if err != nil {
		return err
	}
	w.riffSizeOffset = w.offset
	err = w.writeUint32(0)
	if err != nil {
		return err
	}
	err = w.writeFourCC("AVI ")
	if err != nil {
		return err
	}

	avih := w.header.Bytes()
	strh := w.stream.Bytes()
	strf := w.format.Bytes()
	strlSize := 4 + (8 + len(strh)) + (8 + len(strf))
	hdrlSize := 4 + (8 + len(avih)) + (8 + strlSize)

	// "hdrl" list
	{
		err = w.writeListHeader("hdrl", hdrlSize)
		if err != nil {
			return err
		}
		w.avihOffset = w.offset + 8
		err = w.writeChunk("avih", avih)
		if err != nil {
			return err
		}
		err = w.writeListHeader("strl", strlSize)
		if err != nil {
			return err
		}
		w.strhOffset = w.offset + 8
		err = w.writeChunk("strh", strh)
		if err != nil {
			return err
		}
		err = w.writeChunk("strf", strf)
		if err != nil {
			return err
		}
	}

	// "movi" list; the size is patched when we close.
	err = w.writeFourCC("LIST")
	if err != nil {
		return err
	}
	w.moviSizeOffset = w.offset
	err = w.writeUint32(0)
	if err != nil {
		return err
	}
	w.moviTypeOffset = w.offset
	return w.writeFourCC("movi")
}

// WriteFrame writes one video frame.
func (w *Writer) WriteFrame(data []byte, keyframe bool) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	entry := AVIChunkIndex{
		ChunkOffset: int32(w.offset - w.moviTypeOffset),
		ChunkLength: int32(len(data)),
	}
	copy(entry.ID[:], VideoChunkID)
	if keyframe {
		entry.Flags = AVIChunkIndexKeyframe
	}

	err := w.writeChunk(VideoChunkID, data)
	if err != nil {
		return err
	}
	w.index = append(w.index, entry)
	if entry.ChunkLength > w.largestChunkSize {
		w.largestChunkSize = entry.ChunkLength
	}
	return nil
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int {
	return len(w.index)
}

// Close writes the index and finalizes the headers.  It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	moviEnd := w.offset

	// "idx1"
	{
		err := w.writeFourCC("idx1")
		if err != nil {
			return err
		}
		err = w.writeUint32(uint32(16 * len(w.index)))
		if err != nil {
			return err
		}
		for _, entry := range w.index {
			err = binary.Write(w.writer, binary.LittleEndian, entry)
			if err != nil {
				return err
			}
			w.offset += 16
		}
	}
	fileEnd := w.offset

	w.header.TotalFrames = int32(len(w.index))
	w.header.SuggestedBufferSize = w.largestChunkSize
	w.stream.Length = int32(len(w.index))
	w.stream.SuggestedBufferSize = w.largestChunkSize

	patches := []struct {
		offset int64
		data   []byte
	}{
		{w.riffSizeOffset, binary.LittleEndian.AppendUint32(nil, uint32(fileEnd-8))},
		{w.avihOffset, w.header.Bytes()},
		{w.strhOffset, w.stream.Bytes()},
		{w.moviSizeOffset, binary.LittleEndian.AppendUint32(nil, uint32(moviEnd-w.moviTypeOffset))},
	}
	for _, patch := range patches {
		_, err := w.writer.Seek(patch.offset, io.SeekStart)
		if err != nil {
			return err
		}
		_, err = w.writer.Write(patch.data)
		if err != nil {
			return err
		}
	}
	_, err := w.writer.Seek(fileEnd, io.SeekStart)
	return err
}

// clampInt16 limits a dimension to what the 16-bit frame rectangle can hold.
func clampInt16(value int32) int16 {
	if value > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(value)
}

func clampInt32(value int64) int32 {
	if value > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(value)
}

func (w *Writer) write(data []byte) error {
	count, err := w.writer.Write(data)
	w.offset += int64(count)
	return err
}

func (w *Writer) writeFourCC(code string) error {
	if len(code) != 4 {
		return fmt.Errorf("FourCC must be 4 bytes long: %q", code)
	}
	return w.write([]byte(code))
}

func (w *Writer) writeUint32(value uint32) error {
	return w.write(binary.LittleEndian.AppendUint32(nil, value))
}

// writeChunk writes a chunk.
//
// A chunk looks like: FourCC Length Data [Padding]
func (w *Writer) writeChunk(chunkType string, data []byte) error {
	err := w.writeFourCC(chunkType)
	if err != nil {
		return err
	}
	err = w.writeUint32(uint32(len(data)))
	if err != nil {
		return err
	}
	err = w.write(data)
	if err != nil {
		return err
	}
	if len(data)%2 != 0 {
		return w.write([]byte{0})
	}
	return nil
}

// writeListHeader writes a list header; size covers the list type and its contents.
func (w *Writer) writeListHeader(listType string, size int) error {
	err := w.writeFourCC("LIST")
	if err != nil {
		return err
	}
	err = w.writeUint32(uint32(size))
	if err != nil {
		return err
	}
	return w.writeFourCC(listType)
}
