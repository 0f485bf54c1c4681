package bag

import (
	"container/heap"
	"errors"
	"io"
)

// cursor is the next pending message of a single storage file.
type cursor struct {
	fileIndex int
	iterator  MessageIterator
	next      *Message
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].next.Timestamp != h[j].next.Timestamp {
		return h[i].next.Timestamp < h[j].next.Timestamp
	}
	return h[i].fileIndex < h[j].fileIndex
}
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergedIterator merges several time-ordered iterators into one.
//
// Equal timestamps come out in file order.
type mergedIterator struct {
	cursors cursorHeap
	all     []MessageIterator
}

func newMergedIterator(iterators []MessageIterator) (*mergedIterator, error) {
	m := &mergedIterator{all: iterators}
	for i, iterator := range iterators {
		message, err := iterator.Next()
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			m.Close()
			return nil, err
		}
		m.cursors = append(m.cursors, &cursor{fileIndex: i, iterator: iterator, next: message})
	}
	heap.Init(&m.cursors)
	return m, nil
}

func (m *mergedIterator) Next() (*Message, error) {
	if len(m.cursors) == 0 {
		return nil, io.EOF
	}

	top := m.cursors[0]
	message := top.next

	next, err := top.iterator.Next()
	switch {
	case errors.Is(err, io.EOF):
		heap.Pop(&m.cursors)
	case err != nil:
		return nil, err
	default:
		top.next = next
		heap.Fix(&m.cursors, 0)
	}
	return message, nil
}

func (m *mergedIterator) Close() error {
	var firstErr error
	for _, iterator := range m.all {
		err := iterator.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
