package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/murmurhq/murmur/internal/model"
	"github.com/murmurhq/murmur/internal/session"
)

const (
	titleGenerationTimeout = 5 * time.Second
	titleInputMaxRunes     = 500
)

var titlePrompt = fmt.Sprintf(`Generate a concise title (max %d characters) for a chat session based on this first message.`, session.TitleMaxLength) + `
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle derives a session title from the first user message.
// Best-effort: returns the empty string on any failure.
func (a *Agent) GenerateTitle(ctx context.Context, userMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > titleInputMaxRunes {
		userMessage = string(inputRunes[:titleInputMaxRunes]) + "..."
	}

	resp, err := a.model.Complete(ctx, &model.Request{
		Messages: []*ai.Message{
			ai.NewUserTextMessage(fmt.Sprintf(titlePrompt, userMessage)),
		},
	})
	if err != nil {
		a.logger.Debug("title generation failed", "error", err)
		return ""
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	title = strings.ReplaceAll(title, "\n", " ")
	if title == "" {
		return ""
	}

	titleRunes := []rune(title)
	if len(titleRunes) > session.TitleMaxLength {
		title = string(titleRunes[:session.TitleMaxLength-3]) + "..."
	}
	return title
}
