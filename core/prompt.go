package core

import (
	"fmt"
	"strings"

	"extract-core/format"
	llmclient "extract-core/llm-client"
)

const csvSystemPrompt = `You extract question and answer records from documents.
Reply with CSV only. The first line must be the header:
%s
Quote every field with double quotes and double any quote inside a field.
Do not put line breaks inside a field. Leave a field empty when the document does not say.`

const structuredSystemPrompt = `You extract question and answer records from documents.
Reply with JSON only: an object with a %q array. Each element has the keys %s.
Use empty strings for missing values. Do not wrap the JSON in code fences.`

// PromptBuilder renders the request messages for one input.
type PromptBuilder struct {
	Mode    Mode
	System  string
	RowsKey string
}

// SystemPrompt returns the configured override or the built-in prompt for
// the mode.
func (b PromptBuilder) SystemPrompt() string {
	if b.System != "" {
		return b.System
	}
	header := strings.Join(format.Columns, ",")
	if b.Mode == ModeStructured {
		return fmt.Sprintf(structuredSystemPrompt, b.rowsKey(), header)
	}
	return fmt.Sprintf(csvSystemPrompt, header)
}

// Messages builds the conversation for document text. name is the input's
// relative path and is shown to the model as context.
func (b PromptBuilder) Messages(name, text string) []llmclient.Message {
	return []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: b.SystemPrompt()},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf("Document: %s\n\n%s", name, strings.TrimSpace(text))},
	}
}

func (b PromptBuilder) rowsKey() string {
	if b.RowsKey == "" {
		return "rows"
	}
	return b.RowsKey
}
