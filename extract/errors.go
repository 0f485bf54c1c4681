package extract

import (
	"errors"
	"fmt"
	"time"
)

// These are the extraction errors.
var (
	ErrTopicNotFound   = errors.New("topic not found")
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrNoFrames        = errors.New("no frames")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// DecodeError is returned when a message cannot be turned into a frame.
type DecodeError struct {
	Index     int   // The position of the message within the topic.
	Timestamp int64 // Nanoseconds since the epoch.
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode message %d (%s): %v", e.Index, time.Unix(0, e.Timestamp).UTC().Format(time.RFC3339Nano), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
