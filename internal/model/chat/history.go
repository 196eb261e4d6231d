package chat

// DefaultHistoryCapacity 是单个会话保留的最近消息条数。
const DefaultHistoryCapacity = 10

// History is a fixed-capacity ring of recent messages. Once full, each
// append evicts the oldest entry. It is owned by a single session loop and
// is not safe for concurrent use.
type History struct {
	buf   []Message
	start int
	size  int
}

// NewHistory returns an empty ring; capacity < 1 falls back to the default.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]Message, capacity)}
}

// Append adds msg as the newest entry.
func (h *History) Append(msg Message) {
	capacity := len(h.buf)
	if h.size < capacity {
		h.buf[(h.start+h.size)%capacity] = msg
		h.size++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % capacity
}

// Snapshot returns a copy of the retained messages, oldest first.
func (h *History) Snapshot() []Message {
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len 返回当前保留的消息数。
func (h *History) Len() int { return h.size }

// Cap 返回容量。
func (h *History) Cap() int { return len(h.buf) }

// Reset drops every retained message.
func (h *History) Reset() {
	for i := range h.buf {
		h.buf[i] = Message{}
	}
	h.start, h.size = 0, 0
}
