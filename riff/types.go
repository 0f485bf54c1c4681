package riff

import (
	"bytes"
	"encoding/binary"
	"time"
)

// AVIHeader is the AVI main header ("avih").
type AVIHeader struct {
	MicroSecPerFrame    int32
	MaxBytesPerSec      int32
	PaddingGranularity  int32
	Flags               int32
	TotalFrames         int32
	InitialFrames       int32
	Streams             int32
	SuggestedBufferSize int32
	Width               int32
	Height              int32
	Reserved            [4]int32
}

// These are the AVI flags.
const (
	AVIFlagHasIndex       int32 = 0x00000010 // Index at end of file.
	AVIFlagMustUseIndex   int32 = 0x00000020
	AVIFlagIsInterleaved  int32 = 0x00000100
	AVIFlagTrustCKType    int32 = 0x00000800 // Use CKType to find key frames
	AVIFlagWasCaptureFile int32 = 0x00010000
	AVIFlagCopyrighted    int32 = 0x00020000
)

// Bytes returns the encoded version of the header.
func (h *AVIHeader) Bytes() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.LittleEndian, *h)
	return buffer.Bytes()
}

// AVIStreamHeader is the AVI stream header ("strh").
type AVIStreamHeader struct {
	Type                [4]byte
	Handler             [4]byte
	Flags               int32
	Priority            int16
	Language            int16
	InitialFrames       int32
	Scale               int32
	Rate                int32 /* dwRate / dwScale == samples/second */
	Start               int32
	Length              int32 /* In units above... */
	SuggestedBufferSize int32
	Quality             int32
	SampleSize          int32
	FrameLeft           int16
	FrameTop            int16
	FrameRight          int16
	FrameBottom         int16
}

// Bytes returns the encoded version of the header.
func (h *AVIStreamHeader) Bytes() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.LittleEndian, *h)
	return buffer.Bytes()
}

// FrameRate returns Rate / Scale.
func (h *AVIStreamHeader) FrameRate() float64 {
	if h.Scale == 0 {
		return 0
	}
	return float64(h.Rate) / float64(h.Scale)
}

// AVIStreamVideoFormat is the video stream format ("strf"); this is a BITMAPINFOHEADER.
type AVIStreamVideoFormat struct {
	Size          int32
	Width         int32
	Height        int32
	Planes        int16
	BitCount      int16
	Compression   [4]byte
	SizeImage     int32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       int32
	ClrImportant  int32
}

// Bytes returns the encoded version of the format.
func (h *AVIStreamVideoFormat) Bytes() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.LittleEndian, *h)
	return buffer.Bytes()
}

// AVIChunkIndex is an "idx1" entry.
//
// The offset is relative to the "movi" list type code.
type AVIChunkIndex struct {
	ID          [4]byte
	Flags       int32
	ChunkOffset int32
	ChunkLength int32
}

// These are the AVI chunk index flags.
const (
	AVIChunkIndexList     int32 = 0x00000001
	AVIChunkIndexKeyframe int32 = 0x00000010
	AVIChunkIndexNoTime   int32 = 0x00000100
)

// Info describes a single-video-stream AVI file.
type Info struct {
	Header AVIHeader
	Stream AVIStreamHeader
	Format AVIStreamVideoFormat
	Frames int             // The number of video chunks in the "movi" list.
	Index  []AVIChunkIndex // The "idx1" entries, if present.
}

// Duration returns the nominal duration of the video stream.
func (i *Info) Duration() time.Duration {
	rate := i.Stream.FrameRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(i.Stream.Length) / rate * float64(time.Second))
}
