package api

import (
	"fmt"
	"net/http"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
)

// ContactHandler registers guardian destinations and serves decision receipts.
type ContactHandler struct {
	contacts      service.ContactService
	archive       service.DecisionArchive
	pushPublicKey string
}

func NewContactHandler(contacts service.ContactService, archive service.DecisionArchive, pushPublicKey string) *ContactHandler {
	if archive == nil {
		archive = service.NewDecisionArchive(nil)
	}
	return &ContactHandler{contacts: contacts, archive: archive, pushPublicKey: pushPublicKey}
}

type PushSubscriptionRequest struct {
	Phone        string                   `json:"phone" binding:"required"`
	Subscription *domain.PushSubscription `json:"subscription" binding:"required"`
}

type WhatsAppContactRequest struct {
	Phone string `json:"phone" binding:"required"`
	OptIn bool   `json:"optIn"`
}

type EmailContactRequest struct {
	Phone string `json:"phone" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// PushPublicKey returns the VAPID key, or 503 when web push is not configured.
func (h *ContactHandler) PushPublicKey(c *gin.Context) {
	if h.pushPublicKey == "" {
		respondError(c, service.ErrFeatureDisabled)
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.pushPublicKey})
}

func (h *ContactHandler) RegisterPush(c *gin.Context) {
	var req PushSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	contact, err := h.contacts.RegisterPush(c.Request.Context(), req.Phone, *req.Subscription)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) RegisterWhatsApp(c *gin.Context) {
	var req WhatsAppContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	contact, err := h.contacts.RegisterWhatsApp(c.Request.Context(), req.Phone, req.OptIn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) RegisterEmail(c *gin.Context) {
	var req EmailContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	contact, err := h.contacts.RegisterEmail(c.Request.Context(), req.Phone, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, err := h.contacts.Lookup(c.Request.Context(), c.Param("phone"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	phone := c.Param("phone")
	if err := h.contacts.Delete(c.Request.Context(), phone); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": phone})
}

// ReceiptURL returns a presigned link to the archived decision receipt.
func (h *ContactHandler) ReceiptURL(c *gin.Context) {
	url, err := h.archive.ReceiptURL(c.Request.Context(), c.Param("pendingId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
