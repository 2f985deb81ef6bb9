package models

// Chatfuel-style reply shapes returned by the webhook endpoints.

type WebhookButton struct {
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	URL        string   `json:"url,omitempty"`
	BlockNames []string `json:"block_names,omitempty"`
}

type AttachmentPayload struct {
	URL          string          `json:"url,omitempty"`
	TemplateType string          `json:"template_type,omitempty"`
	Text         string          `json:"text,omitempty"`
	Buttons      []WebhookButton `json:"buttons,omitempty"`
}

type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type WebhookMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type WebhookResponse struct {
	Messages  []WebhookMessage `json:"messages"`
	SessionID string           `json:"session_id,omitempty"`
}

func TextMessage(text string) WebhookMessage {
	return WebhookMessage{Text: text}
}

func ImageMessage(url string) WebhookMessage {
	return WebhookMessage{Attachment: &Attachment{
		Type:    "image",
		Payload: AttachmentPayload{URL: url},
	}}
}

func ButtonMessage(text string, buttons ...WebhookButton) WebhookMessage {
	return WebhookMessage{Attachment: &Attachment{
		Type: "template",
		Payload: AttachmentPayload{
			TemplateType: "button",
			Text:         text,
			Buttons:      buttons,
		},
	}}
}
