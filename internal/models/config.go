package models

type DefaultUserInfo struct {
	NameRequired bool `json:"nameRequired"`
	DOBRequired  bool `json:"dobRequired"`
}

// ReadingConfig is the single deployment-wide configuration record edited
// from the admin surface.
type ReadingConfig struct {
	Prompt           string          `json:"prompt"`
	ResponseTemplate string          `json:"responseTemplate"`
	PremiumPrompt    string          `json:"premiumPrompt"`
	DefaultCardCount int             `json:"defaultCardCount"`
	Model            string          `json:"model"`
	Models           []string        `json:"models"`
	DefaultUserInfo  DefaultUserInfo `json:"defaultUserInfo"`
}

type ConfigPatch struct {
	Prompt           *string          `json:"prompt,omitempty"`
	ResponseTemplate *string          `json:"responseTemplate,omitempty"`
	PremiumPrompt    *string          `json:"premiumPrompt,omitempty"`
	DefaultCardCount *int             `json:"defaultCardCount,omitempty"`
	Model            *string          `json:"model,omitempty"`
	Models           []string         `json:"models,omitempty"`
	DefaultUserInfo  *DefaultUserInfo `json:"defaultUserInfo,omitempty"`
}

// Merge applies the fields present in p onto c. A card count below one is
// ignored.
func (p ConfigPatch) Merge(c ReadingConfig) ReadingConfig {
	if p.Prompt != nil {
		c.Prompt = *p.Prompt
	}
	if p.ResponseTemplate != nil {
		c.ResponseTemplate = *p.ResponseTemplate
	}
	if p.PremiumPrompt != nil {
		c.PremiumPrompt = *p.PremiumPrompt
	}
	if p.DefaultCardCount != nil && *p.DefaultCardCount >= 1 {
		c.DefaultCardCount = *p.DefaultCardCount
	}
	if p.Model != nil && *p.Model != "" {
		c.Model = *p.Model
	}
	if p.Models != nil {
		c.Models = append([]string(nil), p.Models...)
	}
	if p.DefaultUserInfo != nil {
		c.DefaultUserInfo = *p.DefaultUserInfo
	}
	return c
}

// WithDefaults fills zero-valued fields from DefaultReadingConfig.
func (c ReadingConfig) WithDefaults() ReadingConfig {
	d := DefaultReadingConfig()
	if c.Prompt == "" {
		c.Prompt = d.Prompt
	}
	if c.ResponseTemplate == "" {
		c.ResponseTemplate = d.ResponseTemplate
	}
	if c.PremiumPrompt == "" {
		c.PremiumPrompt = d.PremiumPrompt
	}
	if c.DefaultCardCount < 1 {
		c.DefaultCardCount = d.DefaultCardCount
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if len(c.Models) == 0 {
		c.Models = d.Models
	}
	return c
}

const defaultPrompt = `Bạn là chuyên gia tarot reader với nhiều năm kinh nghiệm. Hãy phân tích ý nghĩa của các lá bài tarot dưới đây và đưa ra lời giải cho người dùng có tên là {{name}} và sinh ngày {{dob}}. Hãy nhớ rằng mỗi lá bài mang một năng lượng và thông điệp riêng, và sự kết hợp giữa chúng tạo ra một câu chuyện hoàn chỉnh dành cho {{name}}.`

const defaultResponseTemplate = `# Kết Quả Đọc Bài Tarot

## Phân tích tổng quát
[Đưa ra phân tích tổng quát dựa trên sự kết hợp của các lá bài]

## Phân tích chi tiết từng lá bài
[Phân tích ý nghĩa của từng lá bài trong ngữ cảnh hiện tại]

## Lời khuyên
[Đưa ra lời khuyên cho người được đọc bài]

## Kết luận
[Đưa ra kết luận về tổng thể phiên đọc bài]`

const defaultPremiumPrompt = `Bạn là người đánh giá xem người dùng có nhu cầu nâng cấp lên tài khoản premium hay không.
Hãy phân tích lịch sử chat và xác định xem người dùng có đang yêu cầu:
1. Thông tin chi tiết và chuyên sâu về các lá bài tarot
2. Giải thích chuyên sâu về ý nghĩa của các lá bài trong bối cảnh riêng của họ
3. Thông tin về các mối quan hệ cụ thể giữa các lá bài
4. Những phân tích theo thời gian hoặc tương lai xa
5. Các câu hỏi cụ thể liên quan đến tình yêu, sự nghiệp, tài chính mà cần phân tích sâu

Nếu người dùng hỏi các câu hỏi cơ bản về ý nghĩa tổng quát, đó là dịch vụ miễn phí.
Nếu họ đi sâu vào chi tiết và cần các phân tích chuyên nghiệp, họ cần nâng cấp lên premium.

Trả về kết quả dạng JSON với hai trường: "needsPremium" (true hoặc false) và "reason".`

func DefaultReadingConfig() ReadingConfig {
	return ReadingConfig{
		Prompt:           defaultPrompt,
		ResponseTemplate: defaultResponseTemplate,
		PremiumPrompt:    defaultPremiumPrompt,
		DefaultCardCount: 3,
		Model:            "gpt-3.5-turbo",
		Models:           []string{"gpt-3.5-turbo", "gpt-4", "gpt-4-turbo"},
	}
}
