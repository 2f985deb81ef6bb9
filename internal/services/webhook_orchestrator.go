package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AdminEventsTopic = "admin_events"

	defaultRequestedCards = 3
	basicReadingName      = "Bạn"

	ApologyText          = "Rất tiếc, không thể tạo kết quả đọc bài lúc này. Vui lòng thử lại sau."
	UpgradePromptText    = "Câu hỏi của bạn cần được phân tích chuyên sâu. Vui lòng nâng cấp lên gói đọc bài chuyên sâu để nhận câu trả lời chi tiết."
	compositeIntroText   = "👆 Đây là ba lá bài tarot của bạn"
	basicHeaderText      = "📜 Kết quả đọc bài cơ bản (miễn phí):"
	premiumOfferText     = "Bạn muốn có kết quả đọc bài chuyên sâu và hỏi đáp thêm?"
	premiumHeaderText    = "🔥 Kết quả đọc bài chuyên sâu (trả phí):"
	pdfDownloadText      = "Bạn có thể tải xuống kết quả dạng PDF tại đây:"
	missingSessionIDText = "Thiếu thông tin phiên đọc bài"
	sessionNotFoundText  = "Không tìm thấy phiên đọc bài"
	unpaidNoticeText     = "Phiên đọc bài chuyên sâu chưa được thanh toán hoặc xử lý. Vui lòng thanh toán để xem kết quả đọc bài chi tiết."
	notProcessedText     = "Phiên đọc bài chưa được xử lý hoặc thanh toán. Vui lòng quay lại sau."
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrMissingUID         = errors.New("User ID là bắt buộc")
	ErrMissingSessionID   = errors.New("Session ID là bắt buộc")
	ErrMissingMessage     = errors.New("message is required")
	ErrNoReading          = errors.New("session has no premium reading")
	ErrNotEnoughCards     = errors.New("not enough card images")
	ErrStorageUnavailable = errors.New("session storage unavailable")
)

var premiumButton = models.WebhookButton{
	Type:       "show_block",
	Title:      "Đọc bài chuyên sâu",
	BlockNames: []string{"Premium Reading"},
}

type DrawRequest struct {
	UID       string
	Name      string
	DOB       string
	CardCount int
	// Source labels the draw in metrics, e.g. "public" or "webhook".
	Source      string
	WithReading bool
}

type DrawResult struct {
	Session models.Session
	Reading string
	// ReadingErr is set when the basic reading fell back to the apology text.
	ReadingErr error
}

type FollowUpRequest struct {
	SessionID string
	UID       string
	Message   string
}

type FollowUpResult struct {
	Session      models.Session
	Reply        string
	NeedsPremium bool
	ReplyErr     error
}

type OrchestratorDeps struct {
	Store      SessionStore
	Generator  ReadingGenerator
	Premium    PremiumEvaluator
	Compositor ImageCompositor
	PDF        PDFRenderer
	Cards      CardSource
	Events     EventPublisher
	Metrics    *metrics.Metrics
	// Rand seeds card draws; a time-seeded source is used when nil.
	Rand *rand.Rand
}

// Orchestrator drives a session from the draw through the basic reading,
// follow-up chat, admin approval and PDF delivery.
type Orchestrator struct {
	store      SessionStore
	generator  ReadingGenerator
	premium    PremiumEvaluator
	compositor ImageCompositor
	pdf        PDFRenderer
	cards      CardSource
	events     EventPublisher
	metrics    *metrics.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	logger zerolog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Orchestrator{
		store:      deps.Store,
		generator:  deps.Generator,
		premium:    deps.Premium,
		compositor: deps.Compositor,
		pdf:        deps.PDF,
		cards:      deps.Cards,
		events:     deps.Events,
		metrics:    deps.Metrics,
		rng:        rng,
		logger:     log.With().Str("component", "orchestrator").Logger(),
	}
}

func (o *Orchestrator) Store() SessionStore {
	return o.store
}

// Draw picks distinct cards, creates the session and optionally issues the
// free reading. Composite and reading failures degrade instead of failing.
func (o *Orchestrator) Draw(ctx context.Context, req DrawRequest) (DrawResult, error) {
	if strings.TrimSpace(req.UID) == "" {
		return DrawResult{}, ErrMissingUID
	}

	count := o.CardCount(ctx, req.CardCount)
	images, err := o.cards.List()
	if err != nil {
		return DrawResult{}, fmt.Errorf("list card images: %w", err)
	}
	if len(images) < count {
		return DrawResult{}, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughCards, count, len(images))
	}
	cards := o.drawCards(images, count)

	session := models.Session{
		UID:   req.UID,
		Name:  req.Name,
		DOB:   req.DOB,
		Cards: cards,
		State: models.StateDrawn,
	}
	if o.compositor != nil {
		composite, err := o.compositor.Compose(ctx, cards)
		if err != nil {
			o.metrics.CompositeFailed()
			o.logger.Warn().Err(err).Str("uid", req.UID).Msg("Composite image failed, continuing without it")
		} else {
			session.CompositeImage = composite
		}
	}

	created, ok := o.store.AddSession(ctx, session)
	if !ok {
		return DrawResult{}, ErrStorageUnavailable
	}
	o.metrics.Draw(req.Source)
	o.publish(models.EventSessionCreated, created.ID, created.UID)
	o.logger.Info().Str("session_id", created.ID).Str("uid", created.UID).Int("cards", len(cards)).Msg("Cards drawn")

	result := DrawResult{Session: created}
	if !req.WithReading {
		return result, nil
	}

	user := UserInfo{Name: req.Name, DOB: req.DOB}
	if user.Name == "" {
		user.Name = basicReadingName
	}
	reading, err := o.generator.Generate(ctx, cards, user, nil)
	o.metrics.Reading("basic", err)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", created.ID).Msg("Basic reading failed")
		result.Reading = ApologyText
		result.ReadingErr = err
		return result, nil
	}

	state := models.StateBasicReadingIssued
	updated := o.store.UpdateSession(ctx, created.ID, models.SessionPatch{
		BasicResult: &reading,
		State:       &state,
		AppendChat: []models.ChatMessage{
			{Role: models.RoleUser, Content: fmt.Sprintf("Tôi muốn rút %d lá bài tarot", len(cards))},
			{Role: models.RoleAssistant, Content: reading},
		},
	})
	if updated != nil {
		result.Session = *updated
	}
	result.Reading = reading
	return result, nil
}

// CardCount is the number of cards a draw asking for requested cards gets:
// three when unspecified, capped by the configured default.
func (o *Orchestrator) CardCount(ctx context.Context, requested int) int {
	if requested <= 0 {
		requested = defaultRequestedCards
	}
	if cfg := o.store.GetConfig(ctx); cfg.DefaultCardCount > 0 {
		return min(requested, cfg.DefaultCardCount)
	}
	return requested
}

// drawCards samples count distinct images by rejecting repeats.
func (o *Orchestrator) drawCards(images []CardImage, count int) []models.Card {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	seen := make(map[int]bool, count)
	cards := make([]models.Card, 0, count)
	for len(cards) < count {
		i := o.rng.Intn(len(images))
		if seen[i] {
			continue
		}
		seen[i] = true
		cards = append(cards, models.Card{Name: images[i].DisplayName, Image: images[i].Path})
	}
	return cards
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID, uid string) (*models.Session, error) {
	switch {
	case sessionID != "":
		if s := o.store.GetSessionByID(ctx, sessionID); s != nil {
			return s, nil
		}
	case uid != "":
		if s := o.store.GetLatestSessionByUID(ctx, uid); s != nil {
			return s, nil
		}
	default:
		return nil, ErrMissingUID
	}
	return nil, ErrSessionNotFound
}

// FollowUp answers a user question about an existing reading. Unpaid
// sessions the evaluator flags get the upgrade prompt instead of an answer.
func (o *Orchestrator) FollowUp(ctx context.Context, req FollowUpRequest) (FollowUpResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return FollowUpResult{}, ErrMissingMessage
	}
	session, err := o.loadSession(ctx, req.SessionID, req.UID)
	if err != nil {
		return FollowUpResult{}, err
	}

	state := currentState(*session)
	if len(session.ChatHistory) == 0 {
		return FollowUpResult{}, fmt.Errorf("%w: session %s has no reading to follow up", ErrInvalidTransition, session.ID)
	}
	if !session.Paid {
		if err := Transition(state, models.StateFollowUp); err != nil {
			return FollowUpResult{}, err
		}
	}

	updated := o.store.UpdateSession(ctx, session.ID, models.SessionPatch{
		AppendChat: []models.ChatMessage{{Role: models.RoleUser, Content: req.Message}},
	})
	if updated == nil {
		return FollowUpResult{}, ErrStorageUnavailable
	}
	session = updated

	needsPremium := session.NeedsPremium
	if o.premium != nil {
		evaluation, err := o.premium.Evaluate(ctx, session.ID)
		if err != nil {
			o.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Premium evaluation failed, keeping previous flag")
		} else if evaluation.NeedsPremium != session.NeedsPremium {
			if flagged, err := o.premium.UpdateStatus(ctx, session.ID, evaluation.NeedsPremium); err == nil {
				session = flagged
			}
			needsPremium = evaluation.NeedsPremium
		}
	}

	if needsPremium && !session.Paid {
		flagged := models.StatePremiumFlagged
		if s := o.store.UpdateSession(ctx, session.ID, models.SessionPatch{State: &flagged}); s != nil {
			session = s
		}
		o.publish(models.EventSessionUpdated, session.ID, string(flagged))
		return FollowUpResult{Session: *session, Reply: UpgradePromptText, NeedsPremium: true}, nil
	}

	reply, err := o.generator.Reply(ctx, *session)
	o.metrics.Reading("followup", err)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", session.ID).Msg("Follow-up reply failed")
		return FollowUpResult{Session: *session, Reply: ApologyText, NeedsPremium: needsPremium, ReplyErr: err}, nil
	}

	patch := models.SessionPatch{
		AppendChat: []models.ChatMessage{{Role: models.RoleAssistant, Content: reply}},
	}
	if !session.Paid {
		next := models.StateFollowUp
		patch.State = &next
	}
	if s := o.store.UpdateSession(ctx, session.ID, patch); s != nil {
		session = s
	}
	o.publish(models.EventSessionUpdated, session.ID, string(currentState(*session)))
	return FollowUpResult{Session: *session, Reply: reply, NeedsPremium: needsPremium}, nil
}

// Approve marks a session paid and produces its premium reading. A session
// that is already paid with a reading is returned unchanged.
func (o *Orchestrator) Approve(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	session := o.store.GetSessionByID(ctx, sessionID)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Paid && session.HasReading() {
		return session, nil
	}
	if err := Transition(currentState(*session), models.StateApprovedPaid); err != nil {
		return nil, err
	}

	reading, err := o.generator.Generate(ctx, session.Cards, UserInfo{Name: session.Name, DOB: session.DOB}, nil)
	o.metrics.Reading("premium", err)
	if err != nil {
		return nil, fmt.Errorf("generate premium reading: %w", err)
	}

	paid := true
	state := models.StateApprovedPaid
	updated := o.store.UpdateSession(ctx, sessionID, models.SessionPatch{
		Paid:      &paid,
		GPTResult: &reading,
		State:     &state,
	})
	if updated == nil {
		return nil, ErrStorageUnavailable
	}
	o.publish(models.EventSessionUpdated, sessionID, string(state))
	o.logger.Info().Str("session_id", sessionID).Msg("Session approved")
	return updated, nil
}

// EditResult replaces the premium reading and drops any PDF rendered from
// the old text.
func (o *Orchestrator) EditResult(ctx context.Context, sessionID, text string) (*models.Session, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	session := o.store.GetSessionByID(ctx, sessionID)
	if session == nil {
		return nil, ErrSessionNotFound
	}

	patch := models.SessionPatch{GPTResult: &text}
	if currentState(*session) == models.StatePDFReady {
		back := models.StateApprovedPaid
		patch.State = &back
	}
	updated := o.store.UpdateSession(ctx, sessionID, patch)
	if updated == nil {
		return nil, ErrStorageUnavailable
	}
	if o.pdf != nil && o.pdf.Exists(sessionID) {
		if err := o.pdf.Remove(sessionID); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Could not remove stale PDF")
		}
	}
	o.publish(models.EventSessionUpdated, sessionID, "edited")
	return updated, nil
}

func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if !o.store.DeleteSession(ctx, sessionID) {
		return ErrSessionNotFound
	}
	if o.pdf != nil && o.pdf.Exists(sessionID) {
		if err := o.pdf.Remove(sessionID); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Could not remove PDF of deleted session")
		}
	}
	o.publish(models.EventSessionDeleted, sessionID, "")
	return nil
}

// EnsurePDF returns the PDF file name for a session, rendering it on first
// use.
func (o *Orchestrator) EnsurePDF(ctx context.Context, sessionID string) (string, error) {
	return o.renderPDF(ctx, sessionID, false)
}

func (o *Orchestrator) RegeneratePDF(ctx context.Context, sessionID string) (string, error) {
	return o.renderPDF(ctx, sessionID, true)
}

func (o *Orchestrator) renderPDF(ctx context.Context, sessionID string, regenerate bool) (string, error) {
	if sessionID == "" {
		return "", ErrMissingSessionID
	}
	if o.pdf == nil {
		return "", ErrConfiguration
	}
	session := o.store.GetSessionByID(ctx, sessionID)
	if session == nil {
		return "", ErrSessionNotFound
	}
	if !session.HasReading() {
		return "", ErrNoReading
	}

	if regenerate {
		if err := o.pdf.Remove(sessionID); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Could not remove PDF before regenerating")
		}
	} else if o.pdf.Exists(sessionID) {
		o.metrics.PDF("cached")
		return o.pdf.FileName(sessionID), nil
	}

	if _, err := o.pdf.Render(ctx, *session); err != nil {
		o.metrics.PDF("error")
		return "", fmt.Errorf("render pdf: %w", err)
	}
	o.metrics.PDF("rendered")

	ready := models.StatePDFReady
	if Transition(currentState(*session), ready) == nil {
		o.store.UpdateSession(ctx, sessionID, models.SessionPatch{State: &ready})
	}
	o.publish(models.EventPDFReady, sessionID, o.pdf.FileName(sessionID))
	return o.pdf.FileName(sessionID), nil
}

// BasicReadingResponse lays out the webhook reply for a fresh draw.
func BasicReadingResponse(result DrawResult, baseURL string) models.WebhookResponse {
	var messages []models.WebhookMessage
	if result.Session.CompositeImage != "" {
		messages = append(messages,
			models.TextMessage(compositeIntroText),
			models.ImageMessage(baseURL+result.Session.CompositeImage),
		)
	}
	messages = append(messages,
		models.TextMessage(basicHeaderText),
		models.TextMessage(result.Reading),
		models.ButtonMessage(premiumOfferText, premiumButton),
	)
	return models.WebhookResponse{Messages: messages, SessionID: result.Session.ID}
}

func FollowUpResponse(result FollowUpResult) models.WebhookResponse {
	messages := []models.WebhookMessage{models.TextMessage(result.Reply)}
	if result.NeedsPremium && !result.Session.Paid {
		messages = append(messages, models.ButtonMessage(premiumOfferText, premiumButton))
	}
	return models.WebhookResponse{Messages: messages, SessionID: result.Session.ID}
}

// WebhookResult always produces a well-formed reply: the premium reading
// with a PDF link when paid, otherwise the free reading and a payment notice.
func (o *Orchestrator) WebhookResult(ctx context.Context, sessionID, baseURL string) models.WebhookResponse {
	if sessionID == "" {
		return models.WebhookResponse{Messages: []models.WebhookMessage{models.TextMessage(missingSessionIDText)}}
	}
	session := o.store.GetSessionByID(ctx, sessionID)
	if session == nil {
		return models.WebhookResponse{Messages: []models.WebhookMessage{models.TextMessage(sessionNotFoundText)}}
	}

	if !session.Paid || !session.HasReading() {
		if session.BasicResult != nil && *session.BasicResult != "" {
			return models.WebhookResponse{
				Messages: []models.WebhookMessage{
					models.TextMessage(basicHeaderText),
					models.TextMessage(*session.BasicResult),
					models.TextMessage(unpaidNoticeText),
				},
				SessionID: session.ID,
			}
		}
		return models.WebhookResponse{
			Messages:  []models.WebhookMessage{models.TextMessage(notProcessedText)},
			SessionID: session.ID,
		}
	}

	messages := []models.WebhookMessage{
		models.TextMessage(premiumHeaderText),
		models.TextMessage(*session.GPTResult),
	}
	if session.CompositeImage != "" {
		messages = append(messages, models.ImageMessage(baseURL+session.CompositeImage))
	}
	fileName, err := o.EnsurePDF(ctx, session.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", session.ID).Msg("PDF unavailable, replying without download link")
	} else {
		messages = append(messages, models.ButtonMessage(pdfDownloadText, models.WebhookButton{
			Type:  "web_url",
			Title: "Tải xuống PDF",
			URL:   baseURL + "/pdfs/" + fileName,
		}))
	}
	return models.WebhookResponse{Messages: messages, SessionID: session.ID}
}

func (o *Orchestrator) publish(eventType, sessionID, content string) {
	if o.events == nil {
		return
	}
	o.events.Publish(AdminEventsTopic, models.SessionEvent{
		Type:      eventType,
		Content:   content,
		SessionID: sessionID,
	})
}
