package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(SystemPromptOptions{Language: "es-MX"})
	assert.Contains(t, p, PromptPhoneRole)
	assert.Contains(t, p, "respond in Spanish")
	assert.Contains(t, p, "SINGLE REPLY")
	assert.NotContains(t, p, langPlaceholder)

	p = SystemPrompt(SystemPromptOptions{MultiTurn: true})
	assert.NotContains(t, p, "SINGLE REPLY")
	assert.NotContains(t, p, "FIXED LANGUAGE MODE")
}

func TestLanguageName(t *testing.T) {
	for tag, want := range map[string]string{
		"en-US": "English",
		"zh_HK": "Chinese",
		"YUE":   "Cantonese",
		"sw-KE": "sw-KE",
		" ":     "",
	} {
		assert.Equal(t, want, languageName(tag), tag)
	}
}
