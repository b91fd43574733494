package domain

import (
	"fmt"
	"strings"
)

// PendingKind distinguishes the two kinds of remote confirmations.
type PendingKind string

const (
	KindPlanApproval   PendingKind = "plan-approval"
	KindClassSignature PendingKind = "class-signature"
)

// Valid reports whether k is a known kind.
func (k PendingKind) Valid() bool {
	return k == KindPlanApproval || k == KindClassSignature
}

// PendingStatus is the lifecycle state of a pending record.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusAccepted PendingStatus = "accepted"
	StatusRejected PendingStatus = "rejected"
)

// Decision is the guardian's answer.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision accepts the canonical values and the Spanish yes/no replies.
func ParseDecision(s string) (Decision, error) {
	switch normalizeAnswer(s) {
	case "accept", "accepted", "si", "sí", "yes", "aceptar", "a":
		return DecisionAccept, nil
	case "reject", "rejected", "no", "rechazar", "r":
		return DecisionReject, nil
	}
	return "", NewValidationError("decision", fmt.Sprintf("must be accept or reject, got %q", s))
}

// Status maps the decision onto the terminal status it produces.
func (d Decision) Status() PendingStatus {
	if d == DecisionAccept {
		return StatusAccepted
	}
	return StatusRejected
}

// SignatureRequest is the payload of a class-signature pending record.
type SignatureRequest struct {
	PlanID       string `bson:"planId" json:"planId"`
	ClassOrdinal int    `bson:"classOrdinal" json:"classOrdinal"`
	ContactPhone string `bson:"contactPhone" json:"contactPhone"`
}

// ClassRef points at one class of one plan.
type ClassRef struct {
	PlanID  string
	Ordinal int
}

func normalizeAnswer(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".!¡")
}
