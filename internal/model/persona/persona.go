package persona

// Persona is a named system framing a client can select with set_persona.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt"`
}

// DefaultPrompt 是未设置 persona 时使用的系统提示。
const DefaultPrompt = "You are a helpful AI assistant. Provide clear, concise answers."

// Seed provides the built-in persona presets.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "meeting-assistant",
			Name:        "Meeting Assistant",
			Description: "Listens to a live meeting and answers questions raised in it.",
			Prompt:      "You are a meeting assistant listening to a live conversation. Answer the question that was just asked in two to four sentences, referring to earlier turns when they matter.",
		},
		{
			ID:          "interviewer",
			Name:        "Interview Coach",
			Description: "Helps the user answer interview questions in real time.",
			Prompt:      "You are an interview coach. When an interviewer question arrives, suggest a strong, honest answer the candidate could give, using short bullet points.",
		},
		{
			ID:          "coding-mentor",
			Name:        "Coding Mentor",
			Description: "Explains code and technical concepts.",
			Prompt:      "You are a senior software engineer. Explain technical concepts precisely and include a short code example when it helps.",
		},
		{
			ID:          "concise",
			Name:        "Concise",
			Description: "One or two sentence answers only.",
			Prompt:      "Answer in at most two sentences. Skip preamble.",
		},
	}
}
