package domain

import (
	"fmt"
	"time"
)

// DecisionSource names the call site a decision arrived through.
type DecisionSource string

const (
	SourceHTTP     DecisionSource = "http"
	SourceRelay    DecisionSource = "relay"
	SourceWhatsApp DecisionSource = "whatsapp"
	SourceTelegram DecisionSource = "telegram"
)

// DecisionReceipt is the archived trace of one resolved pending record.
type DecisionReceipt struct {
	PendingID    string         `json:"pendingId"`
	Kind         PendingKind    `json:"kind"`
	Decision     Decision       `json:"decision"`
	Status       PendingStatus  `json:"status"`
	PlanID       string         `json:"planId,omitempty"`
	ClassOrdinal int            `json:"classOrdinal,omitempty"`
	Source       DecisionSource `json:"source"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
}

// ObjectKey is the storage key of the receipt.
func (r DecisionReceipt) ObjectKey() string {
	return ReceiptKey(r.PendingID)
}

// ReceiptKey builds the storage key for a pending id.
func ReceiptKey(pendingID string) string {
	return fmt.Sprintf("decisions/%s.json", pendingID)
}
