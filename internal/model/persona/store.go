package persona

import "strings"

// Store exposes persona retrieval for HTTP handlers and sessions.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the predefined persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Resolve 把 set_persona 的输入解析为系统提示：预设 ID 返回其 Prompt，
// 其他非空文本原样作为自定义 persona，空串表示恢复默认。
func Resolve(store Store, input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if store != nil {
		if p, ok := store.FindByID(input); ok {
			return p.Prompt
		}
	}
	return input
}
