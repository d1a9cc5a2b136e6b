package imu

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOutOfOrder = errors.New("imu: sample timestamp not increasing")
	ErrOutOfRange = errors.New("imu: requested window not covered by buffer")
)

// Buffer is a fixed-capacity ring of samples ordered by time. When full,
// the oldest sample is overwritten.
type Buffer struct {
	mu    sync.RWMutex
	data  []Sample
	head  int // index of the oldest sample
	count int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{data: make([]Sample, capacity)}
}

func (b *Buffer) at(i int) Sample {
	return b.data[(b.head+i)%len(b.data)]
}

// Insert appends s. Timestamps must be strictly increasing.
func (b *Buffer) Insert(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count > 0 {
		last := b.at(b.count - 1)
		if s.Time <= last.Time {
			return fmt.Errorf("%w: %.6f after %.6f", ErrOutOfOrder, s.Time, last.Time)
		}
	}
	if b.count < len(b.data) {
		b.data[(b.head+b.count)%len(b.data)] = s
		b.count++
		return nil
	}
	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	return nil
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Span returns the oldest and newest timestamps held.
func (b *Buffer) Span() (from, to float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return 0, 0, false
	}
	return b.at(0).Time, b.at(b.count - 1).Time, true
}

// search returns the first index with Time >= t.
func (b *Buffer) search(t float64) int {
	return sort.Search(b.count, func(i int) bool { return b.at(i).Time >= t })
}

// Get returns the sample at t, interpolating between neighbours.
func (b *Buffer) Get(t float64) (Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(t)
}

func (b *Buffer) get(t float64) (Sample, error) {
	if b.count == 0 || t < b.at(0).Time || t > b.at(b.count-1).Time {
		return Sample{}, fmt.Errorf("%w: t=%.6f", ErrOutOfRange, t)
	}
	i := b.search(t)
	s := b.at(i)
	if s.Time == t || i == 0 {
		return s, nil
	}
	return Interpolate(b.at(i-1), s, t), nil
}

// Between returns the stamps and samples covering [from, to]. The first and
// last entries are interpolated at exactly from and to; interior entries are
// the raw samples strictly inside the window. Stamps and samples have equal
// length.
func (b *Buffer) Between(from, to float64) ([]float64, []Sample, error) {
	if to <= from {
		return nil, nil, fmt.Errorf("%w: empty window [%.6f, %.6f]", ErrOutOfRange, from, to)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	first, err := b.get(from)
	if err != nil {
		return nil, nil, err
	}
	last, err := b.get(to)
	if err != nil {
		return nil, nil, err
	}

	stamps := []float64{from}
	samples := []Sample{first}
	for i := b.search(from); i < b.count; i++ {
		s := b.at(i)
		if s.Time >= to {
			break
		}
		if s.Time > from {
			stamps = append(stamps, s.Time)
			samples = append(samples, s)
		}
	}
	stamps = append(stamps, to)
	samples = append(samples, last)
	return stamps, samples, nil
}

// DropBefore discards samples older than t, keeping the one right before it
// so t stays interpolable.
func (b *Buffer) DropBefore(t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.search(t)
	if i > 0 {
		i--
	}
	b.head = (b.head + i) % len(b.data)
	b.count -= i
}
