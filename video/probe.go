package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/tekkamanendless/rosbag-extractor/riff"
)

// FFprobePath is the ffprobe executable used to inspect MP4 files that the
// built-in demuxer cannot read.
var FFprobePath = "ffprobe"

// ProbeInfo describes the video stream of a file.
type ProbeInfo struct {
	Container string
	Codec     string
	Width     int
	Height    int
	Frames    int
	FrameRate float64
	Duration  time.Duration
}

// Probe reads the first video stream of an AVI or MP4 file.
func Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avi":
		return probeAVI(path)
	case ".mp4":
		info, err := probeMP4(path)
		if err == nil {
			return info, nil
		}
		logger.Debugf("Built-in MP4 probe failed, trying %s: %v", FFprobePath, err)
		return probeFFprobe(ctx, path)
	}
	return nil, fmt.Errorf("unsupported container: %s", path)
}

func probeAVI(path string) (*ProbeInfo, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	info, err := riff.ReadInfo(handle)
	if err != nil {
		return nil, fmt.Errorf("could not read AVI: %w", err)
	}
	return &ProbeInfo{
		Container: "avi",
		Codec:     strings.ToLower(string(info.Format.Compression[:])),
		Width:     int(info.Format.Width),
		Height:    int(info.Format.Height),
		Frames:    info.Frames,
		FrameRate: info.Stream.FrameRate(),
		Duration:  info.Duration(),
	}, nil
}

// probeMP4 reads H.264 MP4 files with the joy4 demuxer.
func probeMP4(path string) (*ProbeInfo, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	demuxer := mp4.NewDemuxer(handle)
	streams, err := demuxer.Streams()
	if err != nil {
		return nil, fmt.Errorf("could not read streams: %w", err)
	}
	videoIndex := -1
	info := &ProbeInfo{Container: "mp4"}
	for i, stream := range streams {
		if stream.Type() != av.H264 {
			continue
		}
		codecData, ok := stream.(h264parser.CodecData)
		if !ok {
			continue
		}
		videoIndex = i
		info.Codec = CodecAVC1
		info.Width = codecData.Width()
		info.Height = codecData.Height()
		break
	}
	if videoIndex < 0 {
		return nil, fmt.Errorf("no H.264 stream")
	}

	var times []time.Duration
	for {
		packet, err := demuxer.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read packet: %w", err)
		}
		if int(packet.Idx) == videoIndex {
			times = append(times, packet.Time)
		}
	}
	info.Frames = len(times)
	if len(times) > 1 {
		// The samples are evenly spaced, so the nominal duration is one more frame than the span.
		span := times[len(times)-1] - times[0]
		frameDuration := span / time.Duration(len(times)-1)
		info.FrameRate = float64(time.Second) / float64(frameDuration)
		info.Duration = span + frameDuration
	}
	return info, nil
}

func probeFFprobe(ctx context.Context, path string) (*ProbeInfo, error) {
	command := exec.CommandContext(ctx, FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=codec_tag_string,width,height,nb_read_packets,r_frame_rate:format=duration",
		"-of", "json",
		path,
	)
	output, err := command.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var result struct {
		Streams []struct {
			CodecTag    string `json:"codec_tag_string"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			FrameRate   string `json:"r_frame_rate"`
			ReadPackets string `json:"nb_read_packets"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	err = json.Unmarshal(output, &result)
	if err != nil {
		return nil, fmt.Errorf("could not parse ffprobe output: %w", err)
	}
	if len(result.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	stream := result.Streams[0]

	info := &ProbeInfo{
		Container: "mp4",
		Codec:     stream.CodecTag,
		Width:     stream.Width,
		Height:    stream.Height,
	}
	info.Frames, _ = strconv.Atoi(stream.ReadPackets)
	if numerator, denominator, found := strings.Cut(stream.FrameRate, "/"); found {
		n, _ := strconv.ParseFloat(numerator, 64)
		d, _ := strconv.ParseFloat(denominator, 64)
		if d != 0 {
			info.FrameRate = n / d
		}
	}
	if seconds, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	return info, nil
}
