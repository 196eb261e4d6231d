package intent

import (
	"strings"
	"unicode"
)

// Disposition 表示一段识别文本的处理方式。
type Disposition string

const (
	// Visual 指向屏幕内容，需要视觉模型，且跳过噪声过滤。
	Visual Disposition = "visual"
	// Noise 是闲聊或犹豫语气，不生成回答。
	Noise Disposition = "noise"
	// Actionable 需要生成回答。
	Actionable Disposition = "actionable"
)

// Decision 给出分类结果以及命中的规则，便于日志和指标。
type Decision struct {
	Disposition Disposition
	Rule        string
}

var (
	visualTerms   = set("screen", "screens", "screenshot", "onscreen")
	visualPhrases = []string{"read this", "what is this", "what's this"}
	visualVerbs   = set("see", "look", "looking", "show", "showing", "display", "displayed")
	deictics      = set("this", "that", "these", "those", "here")

	questionWords = set("who", "what", "where", "when", "why", "how", "which",
		"who's", "what's", "where's", "when's", "why's", "how's")
	auxVerbs = set("can", "could", "would", "should", "is", "are", "do", "does",
		"will", "was", "were", "has", "have", "had", "did", "may", "might")
	wakeWords    = set("wieesion", "assistant", "computer")
	commandVerbs = set("show", "tell", "explain", "describe", "list", "help",
		"summarize", "create", "make", "find", "search", "open", "close", "start",
		"stop", "give", "get", "send", "write", "read", "check", "look", "see",
		"display", "calculate", "compare", "translate", "define")

	allowedShort = set("yes please", "no thanks", "go ahead", "continue",
		"next one", "try again", "start over", "thank you", "thanks")

	fillerPhrases = set(
		// 犹豫
		"um", "uh", "hmm", "hm", "er", "ah", "umm", "uhh",
		// 附和
		"yeah", "yep", "yup", "nope", "okay", "ok", "alright", "sure",
		"right", "mhm", "uh huh", "mm hmm",
		"i mean", "you know", "like", "well", "so", "basically", "literally",
		// 拖延
		"let me see", "let me think", "hold on", "wait", "one sec", "give me a sec",
		"i was saying", "as i said", "nevermind", "never mind", "forget it",
		"i think", "i guess", "maybe", "perhaps", "kind of", "sort of",
	)
	fillerWords = set("um", "uh", "hmm", "like", "you", "know", "i", "mean",
		"just", "well", "so", "basically", "literally", "actually", "really",
		"very", "quite", "kind", "sort", "of", "the", "a", "an", "and", "or")
)

const (
	minChars        = 10
	minWords        = 3
	minContentRatio = 0.4
)

// Classify 返回文本的处置结果；纯函数，无副作用。
func Classify(text string) Disposition {
	return Evaluate(text).Disposition
}

// Evaluate applies the rules in priority order: visual intent, then the
// always-actionable patterns, then the noise filters. Anything left over is
// actionable, so ordinary declarative statements still get an answer.
func Evaluate(text string) Decision {
	t := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(t)
	if len(words) == 0 {
		return Decision{Noise, "empty"}
	}

	if rule := visualRule(t, words); rule != "" {
		return Decision{Visual, rule}
	}

	switch {
	case strings.Contains(t, "?"):
		return Decision{Actionable, "question-mark"}
	case questionWords[words[0]]:
		return Decision{Actionable, "question-word"}
	case len(words) >= minWords && auxVerbs[words[0]]:
		return Decision{Actionable, "auxiliary-verb"}
	case anyWord(words, wakeWords):
		return Decision{Actionable, "wake-word"}
	case commandVerbs[words[0]]:
		return Decision{Actionable, "command-verb"}
	}

	phrase := strings.Join(words, " ")
	if allowedShort[phrase] {
		return Decision{Actionable, "allowed-short"}
	}
	if len([]rune(t)) < minChars {
		return Decision{Noise, "too-short"}
	}
	if fillerPhrases[phrase] {
		return Decision{Noise, "filler-phrase"}
	}
	if len(words) < minWords {
		return Decision{Noise, "too-few-words"}
	}
	if contentRatio(words) < minContentRatio {
		return Decision{Noise, "low-content"}
	}
	if allSame(words) {
		return Decision{Noise, "repetition"}
	}
	return Decision{Actionable, "default"}
}

// visualRule: 强指代词（screen 等）直接命中；see/look/show/display 这类动词
// 只有在同一句里出现 this/that/here 等指示词时才算视觉意图。
func visualRule(t string, words []string) string {
	if anyWord(words, visualTerms) {
		return "visual-term"
	}
	for _, p := range visualPhrases {
		if strings.Contains(t, p) {
			return "visual-phrase"
		}
	}
	if anyWord(words, visualVerbs) && anyWord(words, deictics) {
		return "visual-verb"
	}
	return ""
}

// tokenize 以非字母数字字符切分，保留单词内部的撇号。
func tokenize(t string) []string {
	return strings.FieldsFunc(t, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’')
	})
}

func contentRatio(words []string) float64 {
	content := 0
	for _, w := range words {
		if !fillerWords[w] && len([]rune(w)) > 2 {
			content++
		}
	}
	return float64(content) / float64(len(words))
}

func allSame(words []string) bool {
	for _, w := range words[1:] {
		if w != words[0] {
			return false
		}
	}
	return true
}

func anyWord(words []string, vocab map[string]bool) bool {
	for _, w := range words {
		if vocab[w] {
			return true
		}
	}
	return false
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
