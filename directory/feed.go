package directory

import (
	"sync"

	"netpong/frame"
)

// Feed fans highscore updates out to live subscribers. A slow subscriber
// only ever sees the newest table.
type Feed struct {
	mu   sync.Mutex
	subs map[chan frame.HighscoreTable]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan frame.HighscoreTable]struct{})}
}

// Subscribe returns a channel of updates and a func that ends the
// subscription.
func (f *Feed) Subscribe() (<-chan frame.HighscoreTable, func()) {
	ch := make(chan frame.HighscoreTable, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
		})
	}
}

// Publish delivers t to every subscriber without blocking.
func (f *Feed) Publish(t frame.HighscoreTable) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- t
	}
}

// Len reports the number of subscribers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
