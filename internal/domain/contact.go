package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

const (
	MinPhoneDigits = 10
	MaxPhoneDigits = 15
)

// ChannelKind names the transport a contact is reachable on.
type ChannelKind string

const (
	ChannelPush     ChannelKind = "push"
	ChannelWhatsApp ChannelKind = "whatsapp"
	ChannelTelegram ChannelKind = "telegram"
	ChannelEmail    ChannelKind = "email"
)

// PushKeys are the browser-generated encryption keys of a subscription.
type PushKeys struct {
	P256dh string `bson:"p256dh" json:"p256dh"`
	Auth   string `bson:"auth" json:"auth"`
}

// PushSubscription is what the browser's PushManager hands out.
type PushSubscription struct {
	Endpoint string   `bson:"endpoint" json:"endpoint"`
	Keys     PushKeys `bson:"keys" json:"keys"`
}

// Validate checks the endpoint URL and that both keys are present.
func (s *PushSubscription) Validate() error {
	if s == nil {
		return NewValidationError("subscription", "is required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return NewValidationError("subscription.endpoint", "must be an https URL")
	}
	if strings.TrimSpace(s.Keys.P256dh) == "" || strings.TrimSpace(s.Keys.Auth) == "" {
		return NewValidationError("subscription.keys", "p256dh and auth are required")
	}
	return nil
}

// Contact is the single notification destination of a guardian phone.
type Contact struct {
	Phone        string            `bson:"_id" json:"phone"`
	Channel      ChannelKind       `bson:"channel" json:"channel"`
	Push         *PushSubscription `bson:"push,omitempty" json:"push,omitempty"`
	WhatsAppTo   string            `bson:"whatsappTo,omitempty" json:"whatsappTo,omitempty"`
	WhatsAppOpt  bool              `bson:"whatsappOptIn,omitempty" json:"whatsappOptIn,omitempty"`
	TelegramChat int64             `bson:"telegramChat,omitempty" json:"telegramChat,omitempty"`
	Email        string            `bson:"email,omitempty" json:"email,omitempty"`
	CreatedAt    time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// Validate checks that the channel-specific data is present.
func (c *Contact) Validate() error {
	if n := len(c.Phone); n < MinPhoneDigits || n > MaxPhoneDigits {
		return NewValidationError("phone", "must have between 10 and 15 digits")
	}
	switch c.Channel {
	case ChannelPush:
		return c.Push.Validate()
	case ChannelWhatsApp:
		if !c.WhatsAppOpt {
			return NewValidationError("optIn", "guardian must opt in to WhatsApp messages")
		}
		if !strings.HasPrefix(c.WhatsAppTo, "+") {
			return NewValidationError("phone", "could not build an E.164 number")
		}
	case ChannelTelegram:
		if c.TelegramChat == 0 {
			return NewValidationError("chatId", "is required")
		}
	case ChannelEmail:
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return NewValidationError("email", "is not a valid address")
		}
	default:
		return NewValidationError("channel", fmt.Sprintf("unknown channel %q", c.Channel))
	}
	return nil
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone returns the digits of phone or a ValidationError when the length is off.
func NormalizePhone(phone string) (string, error) {
	digits := DigitsOnly(phone)
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return "", NewValidationError("phone", "must have between 10 and 15 digits")
	}
	return digits, nil
}

// ToE164 formats a phone for international delivery. A leading "+" or "00"
// marks an international number, more than 11 digits is assumed to already
// carry a country code, anything shorter gets defaultCountryCode.
func ToE164(phone, defaultCountryCode string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	digits := DigitsOnly(trimmed)
	if digits == "" {
		return "", NewValidationError("phone", "is required")
	}
	switch {
	case strings.HasPrefix(trimmed, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = strings.TrimPrefix(digits, "00")
	case len(digits) > 11:
	default:
		cc := DigitsOnly(defaultCountryCode)
		if cc == "" {
			return "", NewValidationError("phone", "no default country code configured")
		}
		digits = cc + digits
	}
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return "", NewValidationError("phone", "must have between 10 and 15 digits")
	}
	return "+" + digits, nil
}
