package bag

import (
	"errors"
	"time"
)

// These are the errors returned when a bag cannot be opened.
var (
	ErrNotFound           = errors.New("bag not found")
	ErrUnreadable         = errors.New("bag unreadable")
	ErrUnsupportedStorage = errors.New("unsupported storage")
)

// Storage identifiers, as written in metadata.yaml.
const (
	StorageSQLite3 = "sqlite3"
	StorageMCAP    = "mcap"
)

// Connection is a topic within a bag.
//
// Connections that share a topic name and type across split files are merged into
// a single connection.
type Connection struct {
	ID                  int
	Topic               string
	Type                string
	SerializationFormat string
	MessageCount        uint64
	StartTime           int64 // Nanoseconds since the epoch.
	EndTime             int64 // Nanoseconds since the epoch.
}

// Message is a single serialized message.
type Message struct {
	Connection *Connection
	Timestamp  int64 // Nanoseconds since the epoch.
	Data       []byte
}

// Time returns the timestamp as a `time.Time`.
func (m *Message) Time() time.Time {
	return time.Unix(0, m.Timestamp)
}

// MessageIterator yields messages in timestamp order.
//
// Next returns `io.EOF` once there are no more messages.
type MessageIterator interface {
	Next() (*Message, error)
	Close() error
}

// fileTopic is a topic as seen by a single storage file.
type fileTopic struct {
	ID                  int64
	Name                string
	Type                string
	SerializationFormat string
	MessageCount        uint64
	StartTime           int64
	EndTime             int64
}

// rawMessage is a message as seen by a single storage file.
type rawMessage struct {
	TopicID   int64
	Timestamp int64
	Data      []byte
}

// storage is a single storage file (one ".db3" or ".mcap").
type storage interface {
	Topics() []*fileTopic
	// Bounds returns the first and last timestamps and the message count.
	Bounds() (start int64, end int64, count uint64)
	Messages(topicIDs []int64) (rawIterator, error)
	Close() error
}

// rawIterator yields the messages of a single storage file in timestamp order.
type rawIterator interface {
	Next() (*rawMessage, error)
	Close() error
}
