package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/repository"
)

type contactRepository struct {
	db *DB
}

// NewContactRepository creates a ContactRepository backed by db.
func NewContactRepository(db *DB) repository.ContactRepository {
	return &contactRepository{db: db}
}

// channelData is the JSON document stored in contacts.data.
type channelData struct {
	Push        *domain.PushSubscription `json:"push,omitempty"`
	WhatsAppTo  string                   `json:"whatsappTo,omitempty"`
	WhatsAppOpt bool                     `json:"whatsappOptIn,omitempty"`
	Email       string                   `json:"email,omitempty"`
}

func (r *contactRepository) Upsert(ctx context.Context, c *domain.Contact) error {
	data, err := json.Marshal(channelData{
		Push:        c.Push,
		WhatsAppTo:  c.WhatsAppTo,
		WhatsAppOpt: c.WhatsAppOpt,
		Email:       c.Email,
	})
	if err != nil {
		return err
	}
	var chat sql.NullInt64
	if c.TelegramChat != 0 {
		chat = sql.NullInt64{Int64: c.TelegramChat, Valid: true}
	}
	now := formatTime(time.Now())
	_, err = r.db.ExecContext(ctx, r.db.rebind(`INSERT INTO contacts (phone, channel, data, telegram_chat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET
			channel = excluded.channel, data = excluded.data,
			telegram_chat = excluded.telegram_chat, updated_at = excluded.updated_at`),
		c.Phone, string(c.Channel), string(data), chat, now, now)
	if err != nil {
		return err
	}
	stored, err := r.GetByPhone(ctx, c.Phone)
	if err != nil {
		return err
	}
	c.CreatedAt = stored.CreatedAt
	c.UpdatedAt = stored.UpdatedAt
	return nil
}

const contactColumns = `phone, channel, data, telegram_chat, created_at, updated_at`

func scanContact(row rowScanner) (*domain.Contact, error) {
	var (
		c                    domain.Contact
		channel, data        string
		chat                 sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.Phone, &channel, &data, &chat, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var cd channelData
	if err := json.Unmarshal([]byte(data), &cd); err != nil {
		return nil, err
	}
	c.Channel = domain.ChannelKind(channel)
	c.Push = cd.Push
	c.WhatsAppTo = cd.WhatsAppTo
	c.WhatsAppOpt = cd.WhatsAppOpt
	c.Email = cd.Email
	c.TelegramChat = chat.Int64
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func (r *contactRepository) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+contactColumns+` FROM contacts WHERE phone = ?`), phone)
	return scanContact(row)
}

func (r *contactRepository) GetByTelegramChat(ctx context.Context, chatID int64) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+contactColumns+` FROM contacts
		WHERE telegram_chat = ? AND channel = ? ORDER BY updated_at DESC LIMIT 1`), chatID, string(domain.ChannelTelegram))
	return scanContact(row)
}

func (r *contactRepository) Delete(ctx context.Context, phone string) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`DELETE FROM contacts WHERE phone = ?`), phone)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
