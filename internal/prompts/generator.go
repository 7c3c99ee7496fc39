// Package prompts builds the instructions sent to the completion model.
package prompts

import (
	"strings"
)

const langPlaceholder = "{LANG}"

// SystemPromptOptions selects the blocks of the completion system prompt
type SystemPromptOptions struct {
	// Language is a BCP-47 tag such as en-US; empty leaves the language free.
	Language string
	// MultiTurn is set when the caller gets more than one reply per call.
	MultiTurn bool
}

// SystemPrompt returns the system prompt for replies spoken to a caller.
func SystemPrompt(opts SystemPromptOptions) string {
	blocks := []string{PromptPhoneRole, PromptPhoneConversationRules}
	if !opts.MultiTurn {
		blocks = append(blocks, PromptSingleTurn)
	}
	if lang := languageName(opts.Language); lang != "" {
		blocks = append(blocks, strings.ReplaceAll(PromptFixedLanguageMode, langPlaceholder, lang))
	}
	return joinBlocks(blocks...)
}

// languageName maps the primary subtag to a name the model follows more
// reliably than the raw tag. Unknown tags are passed through.
func languageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	primary := strings.ToLower(strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0])
	switch primary {
	case "en":
		return "English"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "pt":
		return "Portuguese"
	case "zh":
		return "Chinese"
	case "yue":
		return "Cantonese"
	case "hi":
		return "Hindi"
	default:
		return tag
	}
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n")
}
