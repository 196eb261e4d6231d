package chat

import "strings"

// Transcript accumulates every turn while a recorded session is active.
// Unlike History it is unbounded; it is cleared on start and flushed on end.
type Transcript struct {
	active   bool
	messages []Message
}

// Start clears previous content and begins recording.
func (t *Transcript) Start() {
	t.active = true
	t.messages = t.messages[:0]
}

// Active reports whether turns are being recorded.
func (t *Transcript) Active() bool { return t.active }

// Record appends msgs when recording is active.
func (t *Transcript) Record(msgs ...Message) {
	if !t.active {
		return
	}
	t.messages = append(t.messages, msgs...)
}

// Stop ends recording and hands back the accumulated turns.
func (t *Transcript) Stop() []Message {
	t.active = false
	out := t.messages
	t.messages = nil
	return out
}

// Format renders messages as "User: ..." / "Assistant: ..." lines.
func Format(msgs []Message) string {
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Role == RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}
