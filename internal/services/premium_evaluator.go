package services

import (
	"context"
	"encoding/json"
	"fmt"

	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	premiumTemperature  = 0.1
	premiumHistoryTurns = 10

	reasonNoHistory   = "Không tìm thấy lịch sử chat"
	reasonParseFailed = "Lỗi xử lý kết quả đánh giá"
	reasonUnspecified = "Không có lý do cụ thể"
)

type PremiumEvaluation struct {
	NeedsPremium bool   `json:"needsPremium"`
	Reason       string `json:"reason"`
}

// PremiumService classifies a conversation as free or paid tier.
type PremiumService struct {
	llm     ChatCompleter
	store   SessionStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewPremiumService(llm ChatCompleter, store SessionStore, m *metrics.Metrics) *PremiumService {
	return &PremiumService{
		llm:     llm,
		store:   store,
		metrics: m,
		logger:  log.With().Str("component", "premium_evaluator").Logger(),
	}
}

// Evaluate returns needsPremium=false without calling the API when the
// session has no chat history. A malformed model answer also yields false.
// API failures are returned alongside a false evaluation.
func (p *PremiumService) Evaluate(ctx context.Context, sessionID string) (PremiumEvaluation, error) {
	session := p.store.GetSessionByID(ctx, sessionID)
	if session == nil || len(session.ChatHistory) == 0 {
		return PremiumEvaluation{NeedsPremium: false, Reason: reasonNoHistory}, nil
	}
	if p.llm == nil {
		return PremiumEvaluation{Reason: "Lỗi: " + ErrConfiguration.Error()}, ErrConfiguration
	}

	cfg := p.store.GetConfig(ctx)
	prompt := cfg.PremiumPrompt
	if prompt == "" {
		prompt = models.DefaultReadingConfig().PremiumPrompt
	}

	recent := session.ChatHistory
	if len(recent) > premiumHistoryTurns {
		recent = recent[len(recent)-premiumHistoryTurns:]
	}
	encoded, err := json.Marshal(recent)
	if err != nil {
		return PremiumEvaluation{Reason: reasonParseFailed}, fmt.Errorf("encode chat history: %w", err)
	}

	response, err := p.llm.Complete(ctx, ChatRequest{
		Model: cfg.Model,
		Messages: []ChatTurn{
			{Role: RoleSystem, Content: prompt},
			{Role: models.RoleUser, Content: "Đánh giá lịch sử chat sau và xác định xem người dùng có cần nâng cấp lên premium không:\n\n" + string(encoded)},
		},
		Temperature:  premiumTemperature,
		JSONResponse: true,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("session_id", sessionID).Msg("Error evaluating premium need")
		return PremiumEvaluation{Reason: "Lỗi: " + err.Error()}, err
	}

	evaluation := parseEvaluation(response)
	p.metrics.PremiumEvaluation(evaluation.NeedsPremium)
	p.logger.Debug().
		Str("session_id", sessionID).
		Bool("needs_premium", evaluation.NeedsPremium).
		Str("reason", evaluation.Reason).
		Msg("Premium evaluation result")
	return evaluation, nil
}

func parseEvaluation(response string) PremiumEvaluation {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return PremiumEvaluation{NeedsPremium: false, Reason: reasonParseFailed}
	}
	needsPremium, _ := raw["needsPremium"].(bool)
	reason, _ := raw["reason"].(string)
	if reason == "" {
		reason = reasonUnspecified
	}
	return PremiumEvaluation{NeedsPremium: needsPremium, Reason: reason}
}

func (p *PremiumService) UpdateStatus(ctx context.Context, sessionID string, needsPremium bool) (*models.Session, error) {
	updated := p.store.UpdateSession(ctx, sessionID, models.SessionPatch{NeedsPremium: &needsPremium})
	if updated == nil {
		return nil, ErrSessionNotFound
	}
	return updated, nil
}
