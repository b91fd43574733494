package api

import (
	"errors"
	"net/http"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify/whatsapp"
	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebhookValidator checks the X-Twilio-Signature of an inbound request.
// *whatsapp.Sender implements it.
type WebhookValidator interface {
	ValidateWebhook(url string, params map[string]string, signature string) bool
}

// WebhookHandler turns inbound WhatsApp replies into decisions.
type WebhookHandler struct {
	validator WebhookValidator
	resolver  service.Resolver
}

func NewWebhookHandler(validator WebhookValidator, resolver service.Resolver) *WebhookHandler {
	return &WebhookHandler{validator: validator, resolver: resolver}
}

// WhatsApp handles Twilio's incoming-message webhook. Twilio only needs a 2xx,
// so decisions that cannot be applied are logged and acknowledged.
func (h *WebhookHandler) WhatsApp(c *gin.Context) {
	if h.validator == nil {
		respondError(c, service.ErrFeatureDisabled)
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid form body")
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if !h.validator.ValidateWebhook(requestURL(c), params, c.GetHeader("X-Twilio-Signature")) {
		abortWithError(c, http.StatusForbidden, "Invalid webhook signature")
		return
	}

	in := whatsapp.ParseInbound(params)
	log := logger.Log.WithFields(logrus.Fields{"from": in.Phone(), "source": domain.SourceWhatsApp})

	var (
		out *service.Outcome
		err error
	)
	if decision, id, ok := in.ButtonDecision(); ok {
		out, err = h.resolver.ResolveAny(c.Request.Context(), id, decision, domain.SourceWhatsApp)
	} else if decision, ok := in.TextDecision(); ok {
		out, err = h.resolver.ResolveLatestForPhone(c.Request.Context(), in.Phone(), decision, domain.SourceWhatsApp)
	} else {
		log.Debug("Ignoring WhatsApp message without a decision")
		c.Status(http.StatusOK)
		return
	}

	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"pendingId": out.PendingID, "status": out.Status}).Info("WhatsApp decision applied")
	case isClientFault(err):
		log.WithError(err).Warn("WhatsApp decision not applied")
	default:
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// isClientFault reports errors a retry from Twilio would not fix.
func isClientFault(err error) bool {
	status, _ := statusFor(err)
	return status < http.StatusInternalServerError || errors.Is(err, service.ErrFeatureDisabled)
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
