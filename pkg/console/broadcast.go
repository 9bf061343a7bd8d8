package console

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Line is one complete line of console output.
type Line struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Broadcaster is a Sink that fans complete lines out to subscribers. Slow
// subscribers lose lines rather than stall the writer.
type Broadcaster struct {
	mu      sync.Mutex
	seq     uint64
	partial strings.Builder
	subs    map[int]chan Line
	nextID  int
	dropped uint64
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Line)}
}

// Printf implements Sink.
func (b *Broadcaster) Printf(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial.WriteString(fmt.Sprintf(format, args...))
	text := b.partial.String()
	lines := strings.Split(text, "\n")
	now := time.Now()
	for _, l := range lines[:len(lines)-1] {
		b.seq++
		line := Line{Seq: b.seq, Time: now, Text: l}
		for _, ch := range b.subs {
			select {
			case ch <- line:
			default:
				b.dropped++
			}
		}
	}
	b.partial.Reset()
	b.partial.WriteString(lines[len(lines)-1])
}

// Subscribe registers a subscriber with a buffer of size lines. The returned
// function unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(size int) (<-chan Line, func()) {
	if size <= 0 {
		size = 64
	}
	ch := make(chan Line, size)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many lines were dropped for slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
