package bag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/foxglove/mcap/go/mcap"
)

// mcapStorage reads a rosbag2 ".mcap" file.
type mcapStorage struct {
	filename string
	handle   *os.File
	indexed  bool
	topics   []*fileTopic
	start    int64
	end      int64
	count    uint64

	// unordered is set when an unindexed file's log times go backwards.
	unordered bool
}

var _ storage = (*mcapStorage)(nil)

func openMCAP(filename string) (*mcapStorage, error) {
	handle, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	s := &mcapStorage{
		filename: filename,
		handle:   handle,
	}
	err = s.load()
	if err != nil {
		handle.Close()
		return nil, err
	}
	return s, nil
}

func (s *mcapStorage) reader() (*mcap.Reader, error) {
	_, err := s.handle.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}
	reader, err := mcap.NewReader(s.handle)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", s.filename, err)
	}
	return reader, nil
}

func (s *mcapStorage) load() error {
	reader, err := s.reader()
	if err != nil {
		return err
	}

	info, err := reader.Info()
	if err != nil || info.Statistics == nil || len(info.ChunkIndexes) == 0 {
		if err != nil {
			logger.Debugf("%s: no usable summary (%v); scanning all messages.", s.filename, err)
		} else {
			logger.Debugf("%s: no statistics or chunk index; scanning all messages.", s.filename)
		}
		return s.scan()
	}
	s.indexed = true

	channelIDs := []uint16{}
	for id := range info.Channels {
		channelIDs = append(channelIDs, id)
	}
	sort.Slice(channelIDs, func(i, j int) bool { return channelIDs[i] < channelIDs[j] })

	for _, id := range channelIDs {
		channel := info.Channels[id]
		topic := &fileTopic{
			ID:                  int64(channel.ID),
			Name:                channel.Topic,
			SerializationFormat: channel.MessageEncoding,
			MessageCount:        info.Statistics.ChannelMessageCounts[channel.ID],
		}
		if schema := info.Schemas[channel.SchemaID]; schema != nil {
			topic.Type = schema.Name
		}

		// The summary does not carry per-channel time bounds; the chunk index does, at
		// chunk granularity.
		for _, chunkIndex := range info.ChunkIndexes {
			if _, ok := chunkIndex.MessageIndexOffsets[channel.ID]; !ok {
				continue
			}
			start := int64(chunkIndex.MessageStartTime)
			end := int64(chunkIndex.MessageEndTime)
			if topic.StartTime == 0 || start < topic.StartTime {
				topic.StartTime = start
			}
			if end > topic.EndTime {
				topic.EndTime = end
			}
		}
		s.topics = append(s.topics, topic)
	}

	s.count = info.Statistics.MessageCount
	if s.count > 0 {
		s.start = int64(info.Statistics.MessageStartTime)
		s.end = int64(info.Statistics.MessageEndTime)
	}

	logger.Debugf("%s: %d channels, %d messages (indexed).", s.filename, len(s.topics), s.count)
	return nil
}

// scan reads every message to build the topic list and statistics.
func (s *mcapStorage) scan() error {
	reader, err := s.reader()
	if err != nil {
		return err
	}
	iterator, err := reader.Messages(mcap.UsingIndex(false))
	if err != nil {
		return fmt.Errorf("could not read messages: %w", err)
	}

	topicMap := map[uint16]*fileTopic{}
	var previous int64
	for {
		schema, channel, message, err := iterator.Next(nil)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("could not read message: %w", err)
		}

		topic := topicMap[channel.ID]
		if topic == nil {
			topic = &fileTopic{
				ID:                  int64(channel.ID),
				Name:                channel.Topic,
				SerializationFormat: channel.MessageEncoding,
			}
			if schema != nil {
				topic.Type = schema.Name
			}
			topicMap[channel.ID] = topic
			s.topics = append(s.topics, topic)
		}

		timestamp := int64(message.LogTime)
		if s.count > 0 && timestamp < previous {
			s.unordered = true
		}
		previous = timestamp
		if topic.MessageCount == 0 || timestamp < topic.StartTime {
			topic.StartTime = timestamp
		}
		if topic.MessageCount == 0 || timestamp > topic.EndTime {
			topic.EndTime = timestamp
		}
		topic.MessageCount++

		if s.count == 0 || timestamp < s.start {
			s.start = timestamp
		}
		if s.count == 0 || timestamp > s.end {
			s.end = timestamp
		}
		s.count++
	}
	sort.Slice(s.topics, func(i, j int) bool { return s.topics[i].ID < s.topics[j].ID })

	if s.unordered {
		logger.Debugf("%s: log times are not in order; messages will be sorted when read.", s.filename)
	}
	logger.Debugf("%s: %d channels, %d messages (scanned).", s.filename, len(s.topics), s.count)
	return nil
}

func (s *mcapStorage) Topics() []*fileTopic {
	return s.topics
}

func (s *mcapStorage) Bounds() (int64, int64, uint64) {
	return s.start, s.end, s.count
}

func (s *mcapStorage) Messages(topicIDs []int64) (rawIterator, error) {
	if len(topicIDs) == 0 {
		return emptyIterator{}, nil
	}

	wanted := map[uint16]bool{}
	topicNames := []string{}
	for _, id := range topicIDs {
		wanted[uint16(id)] = true
		for _, topic := range s.topics {
			if topic.ID == id {
				topicNames = append(topicNames, topic.Name)
			}
		}
	}

	reader, err := s.reader()
	if err != nil {
		return nil, err
	}
	options := []mcap.ReadOpt{
		mcap.UsingIndex(s.indexed),
		mcap.WithTopics(topicNames),
	}
	if s.indexed {
		options = append(options, mcap.InOrder(mcap.LogTimeOrder))
	}
	iterator, err := reader.Messages(options...)
	if err != nil {
		return nil, fmt.Errorf("could not read messages: %w", err)
	}
	result := &mcapIterator{iterator: iterator, wanted: wanted}
	if !s.unordered {
		return result, nil
	}
	return sortedMessages(result)
}

// sortedMessages reads everything from an iterator and returns it again in
// timestamp order; equal timestamps keep their file order.
func sortedMessages(iterator rawIterator) (rawIterator, error) {
	defer iterator.Close()

	messages := []*rawMessage{}
	for {
		message, err := iterator.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return &sliceIterator{messages: messages}, nil
}

type sliceIterator struct {
	messages []*rawMessage
}

func (i *sliceIterator) Next() (*rawMessage, error) {
	if len(i.messages) == 0 {
		return nil, io.EOF
	}
	message := i.messages[0]
	i.messages = i.messages[1:]
	return message, nil
}

func (i *sliceIterator) Close() error {
	i.messages = nil
	return nil
}

func (s *mcapStorage) Close() error {
	return s.handle.Close()
}

type mcapIterator struct {
	iterator mcap.MessageIterator
	wanted   map[uint16]bool
}

func (i *mcapIterator) Next() (*rawMessage, error) {
	for {
		_, channel, message, err := i.iterator.Next(nil)
		if err != nil {
			return nil, err
		}
		if !i.wanted[channel.ID] {
			continue
		}
		return &rawMessage{
			TopicID:   int64(channel.ID),
			Timestamp: int64(message.LogTime),
			// The reader may reuse its chunk buffer.
			Data: append([]byte(nil), message.Data...),
		}, nil
	}
}

func (i *mcapIterator) Close() error {
	return nil
}
