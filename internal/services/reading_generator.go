package services

import (
	"context"
	"fmt"
	"strings"

	"tarot_reading_go_backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readingTemperature  = 0.7
	readingHistoryTurns = 5
	replyHistoryTurns   = 10

	defaultReadingName = "Khách hàng"
	defaultReadingDOB  = "không xác định"
)

type UserInfo struct {
	Name string
	DOB  string
}

type ConfigSource interface {
	GetConfig(ctx context.Context) models.ReadingConfig
}

// TarotReadingGenerator turns drawn cards into a reading using the prompt
// and response template from the stored config.
type TarotReadingGenerator struct {
	llm    ChatCompleter
	config ConfigSource
	logger zerolog.Logger
}

func NewReadingGenerator(llm ChatCompleter, config ConfigSource) *TarotReadingGenerator {
	return &TarotReadingGenerator{
		llm:    llm,
		config: config,
		logger: log.With().Str("component", "reading_generator").Logger(),
	}
}

func (g *TarotReadingGenerator) Generate(ctx context.Context, cards []models.Card, user UserInfo, history []models.ChatMessage) (string, error) {
	if g.llm == nil {
		return "", ErrConfiguration
	}
	cfg := g.config.GetConfig(ctx)
	name, dob := userDefaults(user)

	prompt := substitute(cfg.Prompt, name, dob)
	template := substitute(cfg.ResponseTemplate, name, dob)

	messages := []ChatTurn{{Role: RoleSystem, Content: prompt}}
	messages = append(messages, historyTurns(history, readingHistoryTurns)...)
	messages = append(messages, ChatTurn{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("Cards drawn:\n%s\n\nPlease respond in the following format:\n%s", numberedCards(cards), template),
	})

	g.logger.Debug().Str("model", cfg.Model).Int("history", len(messages)-2).Msg("Generating tarot reading")
	return g.llm.Complete(ctx, ChatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: readingTemperature,
	})
}

// Reply continues the conversation of a session whose chat history already
// ends with the user's latest message.
func (g *TarotReadingGenerator) Reply(ctx context.Context, session models.Session) (string, error) {
	if g.llm == nil {
		return "", ErrConfiguration
	}
	cfg := g.config.GetConfig(ctx)
	name, dob := userDefaults(UserInfo{Name: session.Name, DOB: session.DOB})

	system := substitute(cfg.Prompt, name, dob) +
		"\n\nCards drawn:\n" + numberedCards(session.Cards)

	messages := []ChatTurn{{Role: RoleSystem, Content: system}}
	messages = append(messages, historyTurns(session.ChatHistory, replyHistoryTurns)...)

	return g.llm.Complete(ctx, ChatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: readingTemperature,
	})
}

func userDefaults(user UserInfo) (string, string) {
	name, dob := user.Name, user.DOB
	if name == "" {
		name = defaultReadingName
	}
	if dob == "" {
		dob = defaultReadingDOB
	}
	return name, dob
}

func substitute(template, name, dob string) string {
	return strings.NewReplacer("{{name}}", name, "{{dob}}", dob).Replace(template)
}

func numberedCards(cards []models.Card) string {
	lines := make([]string, len(cards))
	for i, card := range cards {
		lines[i] = fmt.Sprintf("%d. %s", i+1, card.Name)
	}
	return strings.Join(lines, "\n")
}

func historyTurns(history []models.ChatMessage, limit int) []ChatTurn {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	turns := make([]ChatTurn, len(history))
	for i, msg := range history {
		turns[i] = ChatTurn{Role: msg.Role, Content: msg.Content}
	}
	return turns
}
