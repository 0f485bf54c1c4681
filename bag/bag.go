package bag

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Bag is an open ROS2 bag.
type Bag struct {
	Path      string    // The path that was opened (a directory or a single storage file).
	StorageID string    // Either `StorageSQLite3` or `StorageMCAP`.
	Files     []string  // The storage files, in bag order.
	Metadata  *Metadata // The parsed metadata.yaml; nil if the bag has none.

	connections  []*Connection
	files        []*storedFile
	start        int64
	end          int64
	count        uint64
	tempFiles    []string
	decompressor *messageDecompressor
}

// storedFile is one storage file and the mapping from its topic IDs to connections.
type storedFile struct {
	filename    string
	storage     storage
	connections map[int64]*Connection
}

// Open opens the bag at the given path.
//
// The path may be a bag directory (with or without a metadata.yaml) or a single
// ".db3" or ".mcap" file.
func Open(path string) (*Bag, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	b := &Bag{
		Path: path,
	}

	compressionFormat := ""
	compressionMode := CompressionModeNone
	if fileInfo.IsDir() {
		metadataFilename := filepath.Join(path, MetadataFilename)
		_, err := os.Stat(metadataFilename)
		if err == nil {
			b.Metadata, err = ReadMetadataFile(metadataFilename)
			if err != nil {
				return nil, fmt.Errorf("%w: could not read %s: %v", ErrUnreadable, metadataFilename, err)
			}
			b.StorageID = b.Metadata.StorageIdentifier
			compressionFormat = b.Metadata.CompressionFormat
			compressionMode = strings.ToUpper(b.Metadata.CompressionMode)
			for _, relativePath := range b.Metadata.FilePaths() {
				b.Files = append(b.Files, filepath.Join(path, relativePath))
			}
		} else {
			logger.Debugf("No %s in %s; looking for storage files.", MetadataFilename, path)
			b.Files, err = findStorageFiles(path)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
			}
		}
	} else {
		b.Files = []string{path}
		if strings.HasSuffix(path, zstdExtension) {
			compressionFormat = CompressionFormatZstd
			compressionMode = CompressionModeFile
		}
	}
	if len(b.Files) == 0 {
		return nil, fmt.Errorf("%w: no storage files in %s", ErrNotFound, path)
	}

	err = checkCompression(compressionFormat, compressionMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedStorage, err)
	}
	if compressionMode == CompressionModeMessage {
		b.decompressor, err = newMessageDecompressor()
		if err != nil {
			return nil, err
		}
	}

	for _, filename := range b.Files {
		err = b.openFile(filename, compressionMode == CompressionModeFile)
		if err != nil {
			b.Close()
			return nil, err
		}
	}
	b.mergeConnections()

	return b, nil
}

// findStorageFiles returns the storage files in a directory, sorted by name.
func findStorageFiles(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, err
	}
	filenames := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if storageIDForFile(entry.Name()) != "" {
			filenames = append(filenames, filepath.Join(directory, entry.Name()))
		}
	}
	sort.Strings(filenames)
	return filenames, nil
}

// storageIDForFile guesses the storage ID from the file extension.
func storageIDForFile(filename string) string {
	switch filepath.Ext(strings.TrimSuffix(filename, zstdExtension)) {
	case ".db3":
		return StorageSQLite3
	case ".mcap":
		return StorageMCAP
	}
	return ""
}

func (b *Bag) openFile(filename string, compressed bool) error {
	_, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: missing storage file %s", ErrNotFound, filename)
		}
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	storageID := b.StorageID
	if storageID == "" {
		storageID = storageIDForFile(filename)
		b.StorageID = storageID
	}

	readFilename := filename
	if compressed && strings.HasSuffix(filename, zstdExtension) {
		readFilename, err = decompressFile(filename)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		b.tempFiles = append(b.tempFiles, readFilename)
	}

	var s storage
	switch storageID {
	case StorageSQLite3:
		s, err = openSQLite(readFilename)
	case StorageMCAP:
		s, err = openMCAP(readFilename)
	default:
		return fmt.Errorf("%w: %q (%s)", ErrUnsupportedStorage, storageID, filename)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadable, filename, err)
	}

	b.files = append(b.files, &storedFile{
		filename:    filename,
		storage:     s,
		connections: map[int64]*Connection{},
	})
	return nil
}

// mergeConnections builds the bag-wide connection list from every file.
func (b *Bag) mergeConnections() {
	type key struct {
		topic       string
		messageType string
	}
	connectionMap := map[key]*Connection{}

	for _, file := range b.files {
		for _, topic := range file.storage.Topics() {
			k := key{topic: topic.Name, messageType: topic.Type}
			connection := connectionMap[k]
			if connection == nil {
				connection = &Connection{
					Topic:               topic.Name,
					Type:                topic.Type,
					SerializationFormat: topic.SerializationFormat,
				}
				connectionMap[k] = connection
				b.connections = append(b.connections, connection)
			}
			if topic.MessageCount > 0 {
				if connection.MessageCount == 0 || topic.StartTime < connection.StartTime {
					connection.StartTime = topic.StartTime
				}
				if connection.MessageCount == 0 || topic.EndTime > connection.EndTime {
					connection.EndTime = topic.EndTime
				}
			}
			connection.MessageCount += topic.MessageCount
			file.connections[topic.ID] = connection
		}

		start, end, count := file.storage.Bounds()
		if count > 0 {
			if b.count == 0 || start < b.start {
				b.start = start
			}
			if b.count == 0 || end > b.end {
				b.end = end
			}
			b.count += count
		}
	}

	sort.SliceStable(b.connections, func(i, j int) bool {
		return b.connections[i].Topic < b.connections[j].Topic
	})
	for i, connection := range b.connections {
		connection.ID = i
	}
}

// Connections returns all of the connections, sorted by topic.
func (b *Bag) Connections() []*Connection {
	return b.connections
}

// ConnectionsForTopic returns the connections for the given topic.
func (b *Bag) ConnectionsForTopic(topic string) []*Connection {
	connections := []*Connection{}
	for _, connection := range b.connections {
		if connection.Topic == topic {
			connections = append(connections, connection)
		}
	}
	return connections
}

// MessageCount returns the total number of messages.
func (b *Bag) MessageCount() uint64 {
	return b.count
}

// StartTime returns the timestamp of the first message (ns since the epoch).
func (b *Bag) StartTime() int64 {
	return b.start
}

// EndTime returns the timestamp of the last message (ns since the epoch).
func (b *Bag) EndTime() int64 {
	return b.end
}

// Duration returns the time between the first and last messages.
func (b *Bag) Duration() time.Duration {
	return time.Duration(b.end - b.start)
}

// Size returns the number of bytes the bag takes on disk.
func (b *Bag) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(b.Path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		fileInfo, err := entry.Info()
		if err != nil {
			return err
		}
		total += fileInfo.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Messages returns an iterator over the messages of the given connections, in
// timestamp order.  With no connections, every message is returned.
//
// Only one iterator may be open at a time; close it before asking for another.
func (b *Bag) Messages(connections ...*Connection) (MessageIterator, error) {
	if len(connections) == 0 {
		connections = b.connections
	}
	wanted := map[*Connection]bool{}
	for _, connection := range connections {
		wanted[connection] = true
	}

	iterators := []MessageIterator{}
	for _, file := range b.files {
		topicIDs := []int64{}
		for id, connection := range file.connections {
			if wanted[connection] {
				topicIDs = append(topicIDs, id)
			}
		}
		if len(topicIDs) == 0 {
			continue
		}
		sort.Slice(topicIDs, func(i, j int) bool { return topicIDs[i] < topicIDs[j] })

		raw, err := file.storage.Messages(topicIDs)
		if err != nil {
			for _, iterator := range iterators {
				iterator.Close()
			}
			return nil, fmt.Errorf("%s: %w", file.filename, err)
		}
		iterators = append(iterators, &fileIterator{
			file:         file,
			raw:          raw,
			decompressor: b.decompressor,
		})
	}
	merged, err := newMergedIterator(iterators)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Close closes every storage file and removes any temporary files.
func (b *Bag) Close() error {
	var firstErr error
	for _, file := range b.files {
		err := file.storage.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.files = nil
	for _, filename := range b.tempFiles {
		err := os.Remove(filename)
		if err != nil {
			logger.Warnf("Could not remove temporary file %s: %v", filename, err)
		}
	}
	b.tempFiles = nil
	if b.decompressor != nil {
		b.decompressor.Close()
		b.decompressor = nil
	}
	return firstErr
}

// fileIterator turns a storage file's raw messages into `Message` instances.
type fileIterator struct {
	file         *storedFile
	raw          rawIterator
	decompressor *messageDecompressor
	index        int
}

func (i *fileIterator) Next() (*Message, error) {
	raw, err := i.raw.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s: could not read message %d: %w", i.file.filename, i.index, err)
	}
	i.index++

	data := raw.Data
	if i.decompressor != nil {
		data, err = i.decompressor.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%s: could not decompress message %d: %w", i.file.filename, i.index-1, err)
		}
	}
	return &Message{
		Connection: i.file.connections[raw.TopicID],
		Timestamp:  raw.Timestamp,
		Data:       data,
	}, nil
}

func (i *fileIterator) Close() error {
	return i.raw.Close()
}
