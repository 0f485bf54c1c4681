package bag

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

// sqliteStorage reads a rosbag2 ".db3" file.
type sqliteStorage struct {
	filename string
	db       *sql.DB
	topics   []*fileTopic
	start    int64
	end      int64
	count    uint64
}

var _ storage = (*sqliteStorage)(nil)

func openSQLite(filename string) (*sqliteStorage, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the query_only pragma in effect for every query.
	db.SetMaxOpenConns(1)

	s := &sqliteStorage{
		filename: filename,
		db:       db,
	}
	err = s.load()
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStorage) load() error {
	_, err := s.db.Exec("PRAGMA query_only = 1")
	if err != nil {
		return fmt.Errorf("could not open %s: %w", s.filename, err)
	}

	topicMap := map[int64]*fileTopic{}
	{
		rows, err := s.db.Query("SELECT id, name, type, serialization_format FROM topics ORDER BY id")
		if err != nil {
			return fmt.Errorf("could not read topics: %w", err)
		}
		for rows.Next() {
			topic := &fileTopic{}
			err = rows.Scan(&topic.ID, &topic.Name, &topic.Type, &topic.SerializationFormat)
			if err != nil {
				rows.Close()
				return fmt.Errorf("could not read topic: %w", err)
			}
			s.topics = append(s.topics, topic)
			topicMap[topic.ID] = topic
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("could not read topics: %w", err)
		}
	}

	{
		rows, err := s.db.Query("SELECT topic_id, COUNT(*), MIN(timestamp), MAX(timestamp) FROM messages GROUP BY topic_id")
		if err != nil {
			return fmt.Errorf("could not read message statistics: %w", err)
		}
		for rows.Next() {
			var topicID int64
			var count uint64
			var start, end int64
			err = rows.Scan(&topicID, &count, &start, &end)
			if err != nil {
				rows.Close()
				return fmt.Errorf("could not read message statistics: %w", err)
			}
			topic := topicMap[topicID]
			if topic == nil {
				logger.Warnf("%s: %d messages reference unknown topic ID %d.", s.filename, count, topicID)
				continue
			}
			topic.MessageCount = count
			topic.StartTime = start
			topic.EndTime = end

			if s.count == 0 || start < s.start {
				s.start = start
			}
			if s.count == 0 || end > s.end {
				s.end = end
			}
			s.count += count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("could not read message statistics: %w", err)
		}
	}

	logger.Debugf("%s: %d topics, %d messages.", s.filename, len(s.topics), s.count)
	return nil
}

func (s *sqliteStorage) Topics() []*fileTopic {
	return s.topics
}

func (s *sqliteStorage) Bounds() (int64, int64, uint64) {
	return s.start, s.end, s.count
}

func (s *sqliteStorage) Messages(topicIDs []int64) (rawIterator, error) {
	if len(topicIDs) == 0 {
		return emptyIterator{}, nil
	}

	placeholders := make([]string, len(topicIDs))
	arguments := make([]interface{}, len(topicIDs))
	for i, id := range topicIDs {
		placeholders[i] = "?"
		arguments[i] = id
	}
	query := "SELECT topic_id, timestamp, data FROM messages WHERE topic_id IN (" + strings.Join(placeholders, ", ") + ") ORDER BY timestamp, id"

	rows, err := s.db.Query(query, arguments...)
	if err != nil {
		return nil, fmt.Errorf("could not query messages: %w", err)
	}
	return &sqliteIterator{rows: rows}, nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type sqliteIterator struct {
	rows *sql.Rows
}

func (i *sqliteIterator) Next() (*rawMessage, error) {
	if !i.rows.Next() {
		err := i.rows.Err()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	message := &rawMessage{}
	err := i.rows.Scan(&message.TopicID, &message.Timestamp, &message.Data)
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (i *sqliteIterator) Close() error {
	return i.rows.Close()
}

type emptyIterator struct{}

func (emptyIterator) Next() (*rawMessage, error) { return nil, io.EOF }
func (emptyIterator) Close() error              { return nil }
