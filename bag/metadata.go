package bag

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// MetadataFilename is the name of the index file inside a bag directory.
const MetadataFilename = "metadata.yaml"

// NewestKnownMetadataVersion is the newest metadata.yaml version this package has been
// checked against.  Newer bags are still read, but with a warning.
var NewestKnownMetadataVersion = version.Must(version.NewVersion("9"))

// Metadata is the content of a bag's metadata.yaml.
type Metadata struct {
	Version                int                       `yaml:"version"`
	StorageIdentifier      string                    `yaml:"storage_identifier"`
	Duration               MetadataDuration          `yaml:"duration"`
	StartingTime           MetadataTime              `yaml:"starting_time"`
	MessageCount           uint64                    `yaml:"message_count"`
	TopicsWithMessageCount []MetadataTopic           `yaml:"topics_with_message_count"`
	CompressionFormat      string                    `yaml:"compression_format"`
	CompressionMode        string                    `yaml:"compression_mode"`
	RelativeFilePaths      []string                  `yaml:"relative_file_paths"`
	Files                  []MetadataFileInformation `yaml:"files"`
}

// MetadataDuration is a duration entry.
type MetadataDuration struct {
	Nanoseconds int64 `yaml:"nanoseconds"`
}

// MetadataTime is a point in time entry.
type MetadataTime struct {
	NanosecondsSinceEpoch int64 `yaml:"nanoseconds_since_epoch"`
}

// MetadataTopic is a topic entry with its message count.
type MetadataTopic struct {
	TopicMetadata struct {
		Name                string `yaml:"name"`
		Type                string `yaml:"type"`
		SerializationFormat string `yaml:"serialization_format"`
	} `yaml:"topic_metadata"`
	MessageCount uint64 `yaml:"message_count"`
}

// MetadataFileInformation describes one storage file.
type MetadataFileInformation struct {
	Path         string           `yaml:"path"`
	StartingTime MetadataTime     `yaml:"starting_time"`
	Duration     MetadataDuration `yaml:"duration"`
	MessageCount uint64           `yaml:"message_count"`
}

type metadataDocument struct {
	Information *Metadata `yaml:"rosbag2_bagfile_information"`
}

// FilePaths returns the storage file paths, relative to the bag directory.
func (m *Metadata) FilePaths() []string {
	if len(m.RelativeFilePaths) > 0 {
		return m.RelativeFilePaths
	}
	paths := []string{}
	for _, file := range m.Files {
		paths = append(paths, file.Path)
	}
	return paths
}

// ParseMetadata parses a metadata.yaml document.
func ParseMetadata(reader io.Reader) (*Metadata, error) {
	var document metadataDocument
	err := yaml.NewDecoder(reader).Decode(&document)
	if err != nil {
		return nil, fmt.Errorf("could not decode metadata: %w", err)
	}
	if document.Information == nil {
		return nil, fmt.Errorf("missing rosbag2_bagfile_information")
	}

	metadata := document.Information
	if metadata.Version > 0 {
		fileVersion, err := version.NewVersion(strconv.Itoa(metadata.Version))
		if err == nil && fileVersion.GreaterThan(NewestKnownMetadataVersion) {
			logger.Warnf("Metadata version %s is newer than %s; reading it anyway.", fileVersion, NewestKnownMetadataVersion)
		}
	}
	return metadata, nil
}

// ReadMetadataFile reads and parses the given metadata.yaml file.
func ReadMetadataFile(filename string) (*Metadata, error) {
	handle, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	return ParseMetadata(handle)
}
