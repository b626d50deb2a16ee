package discord

import (
	"sync"

	"github.com/keshon/behavior-sim/internal/behavior"
)

// history keeps the most recent messages of each channel.
type history struct {
	mu       sync.Mutex
	size     int
	channels map[string][]behavior.Message
}

func newHistory(size int) *history {
	return &history{size: size, channels: make(map[string][]behavior.Message)}
}

// add appends msg and returns a copy of the messages that preceded it.
func (h *history) add(channelID string, msg behavior.Message) []behavior.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.channels[channelID]
	prior := append([]behavior.Message(nil), buf...)
	buf = append(buf, msg)
	if len(buf) > h.size {
		buf = append(buf[:0:0], buf[len(buf)-h.size:]...)
	}
	h.channels[channelID] = buf
	return prior
}
