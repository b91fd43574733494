// Package whatsapp sends pre-approved WhatsApp templates through Twilio's
// Content API and reads the replies Twilio posts back.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"agendapro/agenda-api/internal/config"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/notify"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const addressPrefix = "whatsapp:"

var contentSIDPattern = regexp.MustCompile(`(?i)^HX[a-f0-9]{32}$`)

// Twilio error codes that mean the recipient cannot be reached at all.
var goneCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21610: true, // recipient replied STOP
	21614: true, // not a mobile number
	63003: true, // channel could not find the 'To' address
	63024: true, // invalid message recipient
}

// MessageCreator is the slice of the Twilio API used here.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type Sender struct {
	api         MessageCreator
	from        string
	countryCode string
	templates   map[notify.TemplateKey]string
	validator   twilioclient.RequestValidator
	webhookURL  string
}

// New builds a sender backed by the Twilio REST client.
func New(cfg config.WhatsAppConfig) (*Sender, error) {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewWithAPI(rest.Api, cfg)
}

// NewWithAPI builds a sender on any MessageCreator.
func NewWithAPI(api MessageCreator, cfg config.WhatsAppConfig) (*Sender, error) {
	templates := map[notify.TemplateKey]string{
		notify.TemplatePlanApproval:   strings.TrimSpace(cfg.PlanApprovalTemplate),
		notify.TemplateClassSignature: strings.TrimSpace(cfg.ClassSignatureTmpl),
	}
	for key, sid := range templates {
		if !ValidContentSID(sid) {
			return nil, fmt.Errorf("whatsapp template %s: content SID %q must be HX followed by 32 hex characters", key, sid)
		}
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("whatsapp sender number is required")
	}
	from, err := address(cfg.From, cfg.DefaultCountryCode)
	if err != nil {
		return nil, fmt.Errorf("whatsapp sender number: %w", err)
	}
	return &Sender{
		api:         api,
		from:        from,
		countryCode: cfg.DefaultCountryCode,
		templates:   templates,
		validator:   twilioclient.NewRequestValidator(cfg.AuthToken),
		webhookURL:  cfg.WebhookURL,
	}, nil
}

func (s *Sender) Channel() domain.ChannelKind { return domain.ChannelWhatsApp }

func (s *Sender) Notify(ctx context.Context, c domain.Contact, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.WhatsAppOpt {
		return fmt.Errorf("contact %s did not opt in: %w", c.Phone, notify.ErrDestinationGone)
	}
	to := c.WhatsAppTo
	if to == "" {
		to = c.Phone
	}
	to, err := address(to, s.countryCode)
	if err != nil {
		return fmt.Errorf("contact %s: %v: %w", c.Phone, err, notify.ErrDestinationGone)
	}

	sid, ok := s.templates[msg.Template]
	if !ok {
		return fmt.Errorf("no WhatsApp template for %s", msg.Template)
	}
	vars, err := ContentVariables(msg.Template, msg.Variables)
	if err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetContentSid(sid)
	params.SetContentVariables(vars)

	if _, err := s.api.CreateMessage(params); err != nil {
		return classify(err)
	}
	return nil
}

// ValidateWebhook checks the X-Twilio-Signature of an inbound request.
// url defaults to the configured public webhook URL.
func (s *Sender) ValidateWebhook(url string, params map[string]string, signature string) bool {
	if s.webhookURL != "" {
		url = s.webhookURL
	}
	return s.validator.Validate(url, params, signature)
}

// ValidContentSID reports whether sid looks like a Twilio Content SID.
func ValidContentSID(sid string) bool {
	return contentSIDPattern.MatchString(sid)
}

// ContentVariables renders the template slots as Twilio's positional JSON
// object: {"1": "...", "2": "..."}.
func ContentVariables(key notify.TemplateKey, vars map[string]string) (string, error) {
	def, ok := notify.Templates[key]
	if !ok {
		return "", fmt.Errorf("unknown template %q", key)
	}
	values, err := def.Ordered(vars)
	if err != nil {
		return "", err
	}
	positional := make(map[string]string, len(values))
	for i, v := range values {
		positional[strconv.Itoa(i+1)] = v
	}
	out, err := json.Marshal(positional)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func address(phone, countryCode string) (string, error) {
	e164, err := domain.ToE164(strings.TrimPrefix(strings.TrimSpace(phone), addressPrefix), countryCode)
	if err != nil {
		return "", err
	}
	return addressPrefix + e164, nil
}

func classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if goneCodes[restErr.Code] {
			return fmt.Errorf("twilio %d %s: %w", restErr.Code, restErr.Message, notify.ErrDestinationGone)
		}
		return fmt.Errorf("twilio %d (status %d): %s", restErr.Code, restErr.Status, restErr.Message)
	}
	return fmt.Errorf("twilio: %w", err)
}
