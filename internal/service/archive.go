package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/storage"
)

const receiptURLExpiry = 10 * time.Minute

// DecisionArchive keeps a trace of every resolved pending record.
type DecisionArchive interface {
	Store(ctx context.Context, receipt domain.DecisionReceipt) error
	ReceiptURL(ctx context.Context, pendingID string) (string, error)
}

type objectArchive struct {
	store storage.ObjectStorage
}

// NewDecisionArchive writes receipts as JSON objects under decisions/.
func NewDecisionArchive(store storage.ObjectStorage) DecisionArchive {
	if store == nil {
		return disabledArchive{}
	}
	return &objectArchive{store: store}
}

func (a *objectArchive) Store(ctx context.Context, receipt domain.DecisionReceipt) error {
	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	return a.store.PutObject(ctx, receipt.ObjectKey(), "application/json", body)
}

func (a *objectArchive) ReceiptURL(ctx context.Context, pendingID string) (string, error) {
	key := domain.ReceiptKey(pendingID)
	ok, err := a.store.ObjectExists(ctx, key)
	if err != nil {
		return "", &DependencyError{Op: "check receipt", Err: err}
	}
	if !ok {
		return "", ErrPendingNotFound
	}
	url, err := a.store.GeneratePresignedDownloadURL(ctx, key, receiptURLExpiry)
	if err != nil {
		return "", &DependencyError{Op: "presign receipt", Err: err}
	}
	return url, nil
}

// disabledArchive drops receipts when no object storage is configured.
type disabledArchive struct{}

func (disabledArchive) Store(context.Context, domain.DecisionReceipt) error { return nil }

func (disabledArchive) ReceiptURL(context.Context, string) (string, error) {
	return "", ErrFeatureDisabled
}
