package queue

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("queue full")
)
