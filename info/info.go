// Package info summarizes a bag the way `ros2 bag info` does.
package info

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tekkamanendless/rosbag-extractor/bag"
)

// Row is a single topic of the summary.
type Row struct {
	Topic               string
	Type                string
	SerializationFormat string
	Count               uint64
}

// Summary describes a bag.
type Summary struct {
	Path         string
	StorageID    string
	Files        []string // Relative to the bag path when possible.
	Size         int64    // Bytes on disk.
	Start        int64    // Nanoseconds since the epoch.
	End          int64    // Nanoseconds since the epoch.
	Duration     time.Duration
	MessageCount uint64
	Topics       []Row // Sorted by count (descending), then by topic.
}

// Summarize builds the summary of an open bag.
//
// Counts and times come from the storage files, not from metadata.yaml.
func Summarize(b *bag.Bag) (*Summary, error) {
	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("could not determine bag size: %w", err)
	}

	summary := &Summary{
		Path:         b.Path,
		StorageID:    b.StorageID,
		Size:         size,
		Start:        b.StartTime(),
		End:          b.EndTime(),
		Duration:     b.Duration(),
		MessageCount: b.MessageCount(),
	}
	for _, filename := range b.Files {
		relative, err := filepath.Rel(b.Path, filename)
		if err != nil || strings.HasPrefix(relative, "..") || relative == "." {
			relative = filepath.Base(filename)
		}
		summary.Files = append(summary.Files, relative)
	}
	for _, connection := range b.Connections() {
		summary.Topics = append(summary.Topics, Row{
			Topic:               connection.Topic,
			Type:                connection.Type,
			SerializationFormat: connection.SerializationFormat,
			Count:               connection.MessageCount,
		})
	}
	sort.SliceStable(summary.Topics, func(i, j int) bool {
		if summary.Topics[i].Count != summary.Topics[j].Count {
			return summary.Topics[i].Count > summary.Topics[j].Count
		}
		return summary.Topics[i].Topic < summary.Topics[j].Topic
	})
	return summary, nil
}

// TopicCount returns the message count of the given topic.
func (s *Summary) TopicCount(topic string) uint64 {
	var count uint64
	for _, row := range s.Topics {
		if row.Topic == topic {
			count += row.Count
		}
	}
	return count
}

// formatTime formats a timestamp as a date and as seconds since the epoch.
func formatTime(timestamp int64, location *time.Location) string {
	t := time.Unix(0, timestamp).In(location)
	return fmt.Sprintf("%s (%d.%09d)", t.Format("Jan 02 2006 15:04:05.000000000"), timestamp/int64(time.Second), timestamp%int64(time.Second))
}

// Render writes the summary in the format of `ros2 bag info`, with times in the
// local time zone.
func Render(out io.Writer, summary *Summary) error {
	return RenderIn(out, summary, time.Local)
}

// RenderIn is like Render, with times in the given location.
func RenderIn(out io.Writer, summary *Summary, location *time.Location) error {
	writer := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)

	fmt.Fprintf(writer, "Files:\t%s\n", strings.Join(summary.Files, "\n\t"))
	fmt.Fprintf(writer, "Bag size:\t%s\n", humanize.IBytes(uint64(summary.Size)))
	fmt.Fprintf(writer, "Storage id:\t%s\n", summary.StorageID)
	fmt.Fprintf(writer, "Duration:\t%.9fs\n", summary.Duration.Seconds())
	if summary.MessageCount > 0 {
		fmt.Fprintf(writer, "Start:\t%s\n", formatTime(summary.Start, location))
		fmt.Fprintf(writer, "End:\t%s\n", formatTime(summary.End, location))
	}
	fmt.Fprintf(writer, "Messages:\t%d\n", summary.MessageCount)

	lines := []string{}
	for _, row := range summary.Topics {
		lines = append(lines, fmt.Sprintf("Topic: %s | Type: %s | Count: %d | Serialization Format: %s", row.Topic, row.Type, row.Count, row.SerializationFormat))
	}
	if len(lines) == 0 {
		lines = append(lines, "(none)")
	}
	fmt.Fprintf(writer, "Topic information:\t%s\n", strings.Join(lines, "\n\t"))

	return writer.Flush()
}
