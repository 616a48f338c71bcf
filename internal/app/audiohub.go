package app

import (
	"sync"

	"github.com/MrWong99/facesync/pkg/audio"
)

// audioBuffer is the number of chunks a listener may lag behind before
// chunks are dropped for it.
const audioBuffer = 64

// audioHub fans an avatar's PCM output out to any number of listeners.
// Publishing never blocks: a listener whose buffer is full misses chunks.
type audioHub struct {
	mu     sync.Mutex
	subs   map[int]chan audio.AudioFrame
	next   int
	closed bool
}

func newAudioHub() *audioHub {
	return &audioHub{subs: make(map[int]chan audio.AudioFrame)}
}

// Publish is the output sink handed to the avatar's player.
func (h *audioHub) Publish(f audio.AudioFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Subscribe registers a listener. The channel is closed by the returned
// cancel function or when the hub is closed.
func (h *audioHub) Subscribe() (<-chan audio.AudioFrame, func()) {
	ch := make(chan audio.AudioFrame, audioBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Close closes every listener channel.
func (h *audioHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
