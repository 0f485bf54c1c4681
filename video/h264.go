package video

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
)

// H.264 NAL unit types.
const (
	naluTypeSlice = 1
	naluTypeIDR   = 5
	naluTypeSPS   = 7
	naluTypePPS   = 8
)

// h264Encoder has ffmpeg produce an Annex B elementary stream and then muxes
// it into MP4 itself.
type h264Encoder struct {
	ffmpeg           *ffmpegEncoder
	elementaryStream string
	filename         string
	fps              float64
}

func newH264Encoder(ctx context.Context, filename string, width int, height int, fps float64) (encoder, error) {
	elementaryStream := filepath.Join(filepath.Dir(filename), "."+uuid.NewString()+".h264")
	ffmpeg, err := startFFmpeg(ctx, width, height, fps,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-bf", "0", // Decode order must equal presentation order.
		"-f", "h264",
		elementaryStream,
	)
	if err != nil {
		return nil, err
	}
	return &h264Encoder{
		ffmpeg:           ffmpeg,
		elementaryStream: elementaryStream,
		filename:         filename,
		fps:              fps,
	}, nil
}

func (e *h264Encoder) WriteFrame(img *image.RGBA) error {
	return e.ffmpeg.WriteFrame(img)
}

func (e *h264Encoder) Close() error {
	defer os.Remove(e.elementaryStream)

	err := e.ffmpeg.Close()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(e.elementaryStream)
	if err != nil {
		return fmt.Errorf("could not read H.264 stream: %w", err)
	}

	handle, err := os.OpenFile(e.filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer handle.Close()

	count, err := muxH264(handle, data, e.fps)
	if err != nil {
		return fmt.Errorf("could not mux H.264 stream: %w", err)
	}
	logger.Debugf("Muxed %d access units into %s", count, e.filename)
	return handle.Close()
}

func (e *h264Encoder) Abort() error {
	err := e.ffmpeg.Abort()
	os.Remove(e.elementaryStream)
	return err
}

// accessUnit is one coded picture, in AVCC (length-prefixed) form.
type accessUnit struct {
	keyframe bool
	data     []byte
}

// splitAccessUnits groups the NAL units of an Annex B stream into pictures.
//
// The first SPS and PPS are returned separately.  A slice starts a new picture
// when its first_mb_in_slice is zero, which is the case when the first bit of
// the slice header is set.
func splitAccessUnits(data []byte) (sps []byte, pps []byte, units []accessUnit, err error) {
	nalus, kind := h264parser.SplitNALUs(data)
	if kind != h264parser.NALU_ANNEXB {
		return nil, nil, nil, errNotAnnexB
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case naluTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case naluTypePPS:
			if pps == nil {
				pps = nalu
			}
		case naluTypeSlice, naluTypeIDR:
			if len(units) == 0 || (len(nalu) > 1 && nalu[1]&0x80 != 0) {
				units = append(units, accessUnit{})
			}
			unit := &units[len(units)-1]
			if nalu[0]&0x1f == naluTypeIDR {
				unit.keyframe = true
			}
			unit.data = binary.BigEndian.AppendUint32(unit.data, uint32(len(nalu)))
			unit.data = append(unit.data, nalu...)
		}
	}
	if sps == nil || pps == nil {
		return nil, nil, nil, fmt.Errorf("missing SPS or PPS")
	}
	return sps, pps, units, nil
}

// muxH264 writes an Annex B stream into an MP4 file at a fixed frame rate.
//
// The muxer gives the final sample a zero duration, so the track is (frames - 1) / fps long.
func muxH264(writer io.WriteSeeker, data []byte, fps float64) (int, error) {
	sps, pps, units, err := splitAccessUnits(data)
	if err != nil {
		return 0, err
	}
	codecData, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		return 0, fmt.Errorf("could not parse SPS/PPS: %w", err)
	}

	muxer := mp4.NewMuxer(writer)
	err = muxer.WriteHeader([]av.CodecData{codecData})
	if err != nil {
		return 0, fmt.Errorf("could not write header: %w", err)
	}
	for i, unit := range units {
		err = muxer.WritePacket(av.Packet{
			Idx:        0,
			IsKeyFrame: unit.keyframe,
			Time:       frameTime(i, fps),
			Data:       unit.data,
		})
		if err != nil {
			return i, fmt.Errorf("could not write packet %d: %w", i, err)
		}
	}
	err = muxer.WriteTrailer()
	if err != nil {
		return len(units), fmt.Errorf("could not write trailer: %w", err)
	}
	return len(units), nil
}

// frameTime returns the presentation time of a frame at a fixed frame rate.
func frameTime(index int, fps float64) time.Duration {
	return time.Duration(float64(index) * float64(time.Second) / fps)
}
