package service

import (
	"context"
	"errors"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/repository"
)

// ChannelSupport reports which notification channels are configured.
type ChannelSupport interface {
	Supports(kind domain.ChannelKind) bool
}

type ContactService interface {
	RegisterPush(ctx context.Context, phone string, sub domain.PushSubscription) (*domain.Contact, error)
	RegisterWhatsApp(ctx context.Context, phone string, optIn bool) (*domain.Contact, error)
	RegisterTelegram(ctx context.Context, phone string, chatID int64) (*domain.Contact, error)
	RegisterEmail(ctx context.Context, phone, email string) (*domain.Contact, error)
	Lookup(ctx context.Context, phone string) (*domain.Contact, error)
	LookupTelegramChat(ctx context.Context, chatID int64) (*domain.Contact, error)
	Delete(ctx context.Context, phone string) error
}

type contactService struct {
	contacts    repository.ContactRepository
	channels    ChannelSupport
	countryCode string
}

func NewContactService(contacts repository.ContactRepository, channels ChannelSupport, defaultCountryCode string) ContactService {
	return &contactService{
		contacts:    contacts,
		channels:    channels,
		countryCode: defaultCountryCode,
	}
}

func (s *contactService) RegisterPush(ctx context.Context, phone string, sub domain.PushSubscription) (*domain.Contact, error) {
	return s.register(ctx, phone, domain.ChannelPush, func(c *domain.Contact) error {
		c.Push = &sub
		return nil
	})
}

func (s *contactService) RegisterWhatsApp(ctx context.Context, phone string, optIn bool) (*domain.Contact, error) {
	return s.register(ctx, phone, domain.ChannelWhatsApp, func(c *domain.Contact) error {
		to, err := domain.ToE164(phone, s.countryCode)
		if err != nil {
			return err
		}
		c.WhatsAppTo = to
		c.WhatsAppOpt = optIn
		return nil
	})
}

func (s *contactService) RegisterTelegram(ctx context.Context, phone string, chatID int64) (*domain.Contact, error) {
	return s.register(ctx, phone, domain.ChannelTelegram, func(c *domain.Contact) error {
		c.TelegramChat = chatID
		return nil
	})
}

func (s *contactService) RegisterEmail(ctx context.Context, phone, email string) (*domain.Contact, error) {
	return s.register(ctx, phone, domain.ChannelEmail, func(c *domain.Contact) error {
		c.Email = strings.TrimSpace(email)
		return nil
	})
}

// register replaces whatever destination the phone had before.
func (s *contactService) register(ctx context.Context, phone string, channel domain.ChannelKind, fill func(*domain.Contact) error) (*domain.Contact, error) {
	if s.channels != nil && !s.channels.Supports(channel) {
		return nil, &DependencyError{Op: "register " + string(channel) + " contact", Err: ErrFeatureDisabled}
	}
	digits, err := domain.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	contact := &domain.Contact{Phone: digits, Channel: channel}
	if err := fill(contact); err != nil {
		return nil, err
	}
	if err := contact.Validate(); err != nil {
		return nil, err
	}
	if err := s.contacts.Upsert(ctx, contact); err != nil {
		return nil, err
	}
	logger.Log.WithField("phone", digits).Infof("Registered %s contact", channel)
	return contact, nil
}

func (s *contactService) Lookup(ctx context.Context, phone string) (*domain.Contact, error) {
	digits, err := domain.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	c, err := s.contacts.GetByPhone(ctx, digits)
	if err != nil {
		return nil, mapContactError(err)
	}
	return c, nil
}

func (s *contactService) LookupTelegramChat(ctx context.Context, chatID int64) (*domain.Contact, error) {
	c, err := s.contacts.GetByTelegramChat(ctx, chatID)
	if err != nil {
		return nil, mapContactError(err)
	}
	return c, nil
}

func (s *contactService) Delete(ctx context.Context, phone string) error {
	digits, err := domain.NormalizePhone(phone)
	if err != nil {
		return err
	}
	return mapContactError(s.contacts.Delete(ctx, digits))
}

func mapContactError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrContactNotFound
	}
	return err
}
