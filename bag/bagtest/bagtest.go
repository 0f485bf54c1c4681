// Package bagtest builds small ROS2 bags for tests.
package bagtest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/tekkamanendless/rosbag-extractor/rosmsg"
)

// Topic is a topic to put in a bag.
type Topic struct {
	Name   string
	Type   string
	Format string // Defaults to "cdr".
}

func (t Topic) format() string {
	if t.Format == "" {
		return "cdr"
	}
	return t.Format
}

// Message is a message to put in a bag.
type Message struct {
	Topic     string
	Timestamp int64
	Data      []byte
}

// Compression selects how a bag's storage is compressed.
type Compression string

// These are the compression modes.
const (
	CompressionNone    Compression = ""
	CompressionFile    Compression = "FILE"
	CompressionMessage Compression = "MESSAGE"
)

// Options control how a bag directory is written.
type Options struct {
	Storage     string // "sqlite3" (default) or "mcap".
	Compression Compression
	Split       int  // Split the messages across this many files (round robin).
	Unindexed   bool // For MCAP, write without chunks or a chunk index.
	NoMetadata  bool // Skip metadata.yaml.
}

const sqliteSchema = `
CREATE TABLE schema(schema_version INTEGER PRIMARY KEY, ros_distro TEXT NOT NULL);
CREATE TABLE metadata(id INTEGER PRIMARY KEY, metadata_version INTEGER NOT NULL, metadata TEXT NOT NULL);
CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL, serialization_format TEXT NOT NULL, offered_qos_profiles TEXT NOT NULL);
CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL, timestamp INTEGER NOT NULL, data BLOB NOT NULL);
CREATE INDEX timestamp_idx ON messages (timestamp ASC);
INSERT INTO schema(schema_version, ros_distro) VALUES (3, 'humble');
`

// WriteSQLite writes a ".db3" file.
//
// Messages are inserted in the order given, so that row IDs follow that order.
func WriteSQLite(t testing.TB, filename string, topics []Topic, messages []Message) {
	t.Helper()

	db, err := sql.Open("sqlite", filename)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	topicIDs := map[string]int64{}
	for i, topic := range topics {
		id := int64(i + 1)
		_, err = db.Exec("INSERT INTO topics(id, name, type, serialization_format, offered_qos_profiles) VALUES (?, ?, ?, ?, '')", id, topic.Name, topic.Type, topic.format())
		require.NoError(t, err)
		topicIDs[topic.Name] = id
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	for _, message := range messages {
		id, ok := topicIDs[message.Topic]
		require.True(t, ok, "unknown topic %q", message.Topic)
		_, err = tx.Exec("INSERT INTO messages(topic_id, timestamp, data) VALUES (?, ?, ?)", id, message.Timestamp, message.Data)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

// WriteMCAP writes a ".mcap" file with the "ros2" profile.
//
// An indexed file is chunked with a summary section; an unindexed one has neither
// chunks nor a chunk index.
func WriteMCAP(t testing.TB, filename string, topics []Topic, messages []Message, indexed bool) {
	t.Helper()

	handle, err := os.Create(filename)
	require.NoError(t, err)
	defer handle.Close()

	options := &mcap.WriterOptions{
		IncludeCRC: true,
	}
	if indexed {
		options.Chunked = true
		options.ChunkSize = 1024
		options.Compression = mcap.CompressionZSTD
	}
	writer, err := mcap.NewWriter(handle, options)
	require.NoError(t, err)

	require.NoError(t, writer.WriteHeader(&mcap.Header{Profile: "ros2", Library: "bagtest"}))

	channelIDs := map[string]uint16{}
	for i, topic := range topics {
		id := uint16(i + 1)
		require.NoError(t, writer.WriteSchema(&mcap.Schema{
			ID:       id,
			Name:     topic.Type,
			Encoding: "ros2msg",
			Data:     []byte{},
		}))
		require.NoError(t, writer.WriteChannel(&mcap.Channel{
			ID:              id,
			SchemaID:        id,
			Topic:           topic.Name,
			MessageEncoding: topic.format(),
			Metadata:        map[string]string{},
		}))
		channelIDs[topic.Name] = id
	}

	sequences := map[uint16]uint32{}
	for _, message := range messages {
		id, ok := channelIDs[message.Topic]
		require.True(t, ok, "unknown topic %q", message.Topic)
		sequences[id]++
		require.NoError(t, writer.WriteMessage(&mcap.Message{
			ChannelID:   id,
			Sequence:    sequences[id],
			LogTime:     uint64(message.Timestamp),
			PublishTime: uint64(message.Timestamp),
			Data:        message.Data,
		}))
	}
	require.NoError(t, writer.Close())
}

// WriteBag writes a bag directory with the given messages and returns its path.
func WriteBag(t testing.TB, directory string, topics []Topic, messages []Message, options Options) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(directory, 0755))

	storageID := options.Storage
	if storageID == "" {
		storageID = "sqlite3"
	}
	extension := ".db3"
	if storageID == "mcap" {
		extension = ".mcap"
	}
	split := options.Split
	if split <= 0 {
		split = 1
	}

	parts := make([][]Message, split)
	for i, message := range messages {
		parts[i%split] = append(parts[i%split], message)
	}

	var encoder *zstd.Encoder
	if options.Compression != CompressionNone {
		var err error
		encoder, err = zstd.NewWriter(nil)
		require.NoError(t, err)
		defer encoder.Close()
	}

	name := filepath.Base(directory)
	relativePaths := []string{}
	for i, part := range parts {
		if options.Compression == CompressionMessage {
			compressed := []Message{}
			for _, message := range part {
				message.Data = encoder.EncodeAll(message.Data, nil)
				compressed = append(compressed, message)
			}
			part = compressed
		}

		relativePath := fmt.Sprintf("%s_%d%s", name, i, extension)
		filename := filepath.Join(directory, relativePath)
		if storageID == "mcap" {
			WriteMCAP(t, filename, topics, part, !options.Unindexed)
		} else {
			WriteSQLite(t, filename, topics, part)
		}

		if options.Compression == CompressionFile {
			data, err := os.ReadFile(filename)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filename+".zstd", encoder.EncodeAll(data, nil), 0644))
			require.NoError(t, os.Remove(filename))
			relativePath += ".zstd"
		}
		relativePaths = append(relativePaths, relativePath)
	}

	if !options.NoMetadata {
		WriteMetadata(t, directory, storageID, relativePaths, topics, messages, options.Compression)
	}
	return directory
}

// WriteMetadata writes a metadata.yaml file.
func WriteMetadata(t testing.TB, directory string, storageID string, relativePaths []string, topics []Topic, messages []Message, compression Compression) {
	t.Helper()

	type topicMetadata struct {
		Name                string `yaml:"name"`
		Type                string `yaml:"type"`
		SerializationFormat string `yaml:"serialization_format"`
		OfferedQOSProfiles  string `yaml:"offered_qos_profiles"`
	}
	type topicWithCount struct {
		TopicMetadata topicMetadata `yaml:"topic_metadata"`
		MessageCount  int           `yaml:"message_count"`
	}

	counts := map[string]int{}
	var start, end int64
	for i, message := range messages {
		counts[message.Topic]++
		if i == 0 || message.Timestamp < start {
			start = message.Timestamp
		}
		if i == 0 || message.Timestamp > end {
			end = message.Timestamp
		}
	}
	topicsWithCount := []topicWithCount{}
	for _, topic := range topics {
		topicsWithCount = append(topicsWithCount, topicWithCount{
			TopicMetadata: topicMetadata{
				Name:                topic.Name,
				Type:                topic.Type,
				SerializationFormat: topic.format(),
			},
			MessageCount: counts[topic.Name],
		})
	}

	compressionFormat := ""
	if compression != CompressionNone {
		compressionFormat = "zstd"
	}
	document := map[string]interface{}{
		"rosbag2_bagfile_information": map[string]interface{}{
			"version":                   5,
			"storage_identifier":        storageID,
			"relative_file_paths":       relativePaths,
			"duration":                  map[string]int64{"nanoseconds": end - start},
			"starting_time":             map[string]int64{"nanoseconds_since_epoch": start},
			"message_count":             len(messages),
			"topics_with_message_count": topicsWithCount,
			"compression_format":        compressionFormat,
			"compression_mode":          string(compression),
		},
	}
	data, err := yaml.Marshal(document)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(directory, "metadata.yaml"), data, 0644))
}

// ImageMessage returns a serialized sensor_msgs/msg/Image whose pixels are filled
// by the given function.
func ImageMessage(timestamp int64, encoding string, width int, height int, bytesPerPixel int, fill func(x int, y int) []byte) []byte {
	step := width * bytesPerPixel
	data := make([]byte, step*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			copy(data[y*step+x*bytesPerPixel:], fill(x, y))
		}
	}
	return rosmsg.EncodeImage(&rosmsg.Image{
		Header: rosmsg.Header{
			Sec:     int32(timestamp / 1e9),
			Nanosec: uint32(timestamp % 1e9),
			FrameID: "camera",
		},
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: encoding,
		Step:     uint32(step),
		Data:     data,
	})
}

// RGBImageMessage returns an rgb8 image with a gradient that changes with the timestamp.
func RGBImageMessage(timestamp int64, width int, height int) []byte {
	shade := byte(timestamp / 1e6)
	return ImageMessage(timestamp, "rgb8", width, height, 3, func(x int, y int) []byte {
		return []byte{byte(x), byte(y), shade}
	})
}

// ImageMessages returns `count` rgb8 images on a topic, `interval` nanoseconds apart.
func ImageMessages(topic string, start int64, interval int64, count int, width int, height int) []Message {
	messages := []Message{}
	for i := 0; i < count; i++ {
		timestamp := start + int64(i)*interval
		messages = append(messages, Message{
			Topic:     topic,
			Timestamp: timestamp,
			Data:      RGBImageMessage(timestamp, width, height),
		})
	}
	return messages
}
