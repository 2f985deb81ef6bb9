package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

var ErrPaymentsDisabled = errors.New("payments are not configured")

type StripeSettings struct {
	PublicKey     string
	SecretKey     string
	WebhookSecret string
	Amount        int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// StripeService sells the premium reading of one session per checkout.
type StripeService struct {
	settings StripeSettings
	// newSession is swapped in tests to avoid calling the Stripe API.
	newSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeService(settings StripeSettings) *StripeService {
	stripe.Key = settings.SecretKey
	if settings.Currency == "" {
		settings.Currency = "vnd"
	}
	return &StripeService{
		settings:   settings,
		newSession: session.New,
	}
}

func (s *StripeService) Enabled() bool {
	return s != nil && s.settings.SecretKey != ""
}

func (s *StripeService) PublicKey() string {
	return s.settings.PublicKey
}

func (s *StripeService) CreateCheckoutSession(sessionID, uid string) (*stripe.CheckoutSession, error) {
	if !s.Enabled() {
		return nil, ErrPaymentsDisabled
	}
	amount := s.settings.Amount
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.settings.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Đọc bài Tarot chuyên sâu"),
					},
					UnitAmount: &amount,
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.settings.SuccessURL),
		CancelURL:         stripe.String(s.settings.CancelURL),
		ClientReferenceID: stripe.String(sessionID),
		Metadata: map[string]string{
			"tarot_session_id": sessionID,
			"uid":              uid,
		},
	}
	return s.newSession(params)
}

// HandleWebhook verifies the signature and returns the tarot session id of a
// completed checkout. Other event types yield an empty id.
func (s *StripeService) HandleWebhook(payload []byte, signatureHeader string) (string, error) {
	if !s.Enabled() {
		return "", ErrPaymentsDisabled
	}
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.settings.WebhookSecret)
	if err != nil {
		return "", fmt.Errorf("verify stripe webhook: %w", err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return "", nil
	}
	var checkout stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}
	if checkout.ClientReferenceID != "" {
		return checkout.ClientReferenceID, nil
	}
	return checkout.Metadata["tarot_session_id"], nil
}
