package filetransfer

import (
	"slices"
	"sync"
)

// Queue holds pending transfer records. Claim looks up and removes under one lock, so
// two concurrent consumers can never both receive the same entry.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	onChange func(n int)
}

func NewQueue[T any](onChange func(n int)) *Queue[T] {
	return &Queue[T]{onChange: onChange}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	q.changed()
}

// Claim removes and returns the first entry satisfying match.
func (q *Queue[T]) Claim(match func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, v := range q.items {
		if match(v) {
			q.items = slices.Delete(q.items, i, i+1)
			q.changed()
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Any reports whether some entry satisfies match without removing it.
func (q *Queue[T]) Any(match func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range q.items {
		if match(v) {
			return true
		}
	}
	return false
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain empties the queue and returns what it held.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.changed()
	return items
}

func (q *Queue[T]) changed() {
	if q.onChange != nil {
		q.onChange(len(q.items))
	}
}
