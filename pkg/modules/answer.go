package modules

import "strings"

const (
	chatMLAssistant = "<|im_start|>assistant"
	chatMLEnd       = "<|im_end|>"
)

// AnswerExtractor turns raw engine output into the assistant-visible answer.
type AnswerExtractor func(raw string) string

// ExtractChatMLAnswer keeps the text after the last assistant turn marker and
// drops end-of-turn markers. Text without markers is only trimmed.
func ExtractChatMLAnswer(raw string) string {
	if idx := strings.LastIndex(raw, chatMLAssistant); idx != -1 {
		answer := raw[idx+len(chatMLAssistant):]
		return strings.TrimSpace(strings.ReplaceAll(answer, chatMLEnd, ""))
	}
	return strings.TrimSpace(raw)
}

// FinalAnswer picks the short answer out of a worked solution: the content
// of the last \boxed{...}, otherwise the last non-empty line.
func FinalAnswer(answer string) string {
	if boxed, ok := lastBoxed(answer); ok {
		return boxed
	}
	lines := strings.Split(strings.TrimSpace(answer), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func lastBoxed(s string) (string, bool) {
	const marker = `\boxed{`
	idx := strings.LastIndex(s, marker)
	if idx == -1 {
		return "", false
	}
	start := idx + len(marker)
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start:i]), true
			}
		}
	}
	return "", false
}
