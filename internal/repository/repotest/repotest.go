// Package repotest holds behaviour tests every repository backend must pass.
package repotest

import (
	"context"
	"testing"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlan(student, phone string, size int) *domain.Plan {
	return domain.NewPlanFromDraft(domain.PlanDraft{
		StudentName:   student,
		Age:           10,
		GuardianName:  "Guardian of " + student,
		GuardianPhone: phone,
		PlanType:      size,
		Weekdays:      []string{"lunes", "miércoles"},
		StartTime:     "15:00",
	})
}

// PlanRepository exercises a fresh, empty PlanRepository.
func PlanRepository(t *testing.T, newRepo func(t *testing.T) repository.PlanRepository) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		p := newPlan("Ana", "300 123 4567", 4)

		require.NoError(t, repo.Create(ctx, p))
		require.NotEmpty(t, p.ID)
		assert.False(t, p.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.StudentName)
		assert.Equal(t, []string{"lunes", "miércoles"}, got.Weekdays)
		assert.Equal(t, "3001234567", got.PhoneDigits)
		require.Len(t, got.Classes, 4)
		for i, cs := range got.Classes {
			assert.Equal(t, i+1, cs.Ordinal)
			assert.Equal(t, domain.SignatureNone, cs.SignatureState)
		}

		_, err = repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("replace classes", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		p := newPlan("Bruno", "3109876543", 2)
		require.NoError(t, repo.Create(ctx, p))

		classes := p.Classes
		classes[0].SignatureState = domain.SignaturePending
		classes[0].SignaturePendingID = "S1"
		classes[1].Completed = true
		classes[1].SignatureState = domain.SignatureSigned
		classes[1].RetryCount = 2
		require.NoError(t, repo.ReplaceClasses(ctx, p.ID, classes))

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SignaturePending, got.Classes[0].SignatureState)
		assert.Equal(t, "S1", got.Classes[0].SignaturePendingID)
		assert.True(t, got.Classes[1].Completed)
		assert.Equal(t, 2, got.Classes[1].RetryCount)

		assert.ErrorIs(t, repo.ReplaceClasses(ctx, "missing", classes), repository.ErrNotFound)
	})

	t.Run("search newest first", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		older := newPlan("Carla Ruiz", "3001112222", 1)
		require.NoError(t, repo.Create(ctx, older))
		time.Sleep(2 * time.Millisecond)
		newer := newPlan("Carla Gómez", "3003334444", 1)
		require.NoError(t, repo.Create(ctx, newer))

		got, err := repo.Search(ctx, "carla")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)

		got, err = repo.Search(ctx, "111 22")
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID)

		_, err = repo.Search(ctx, "nobody")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		a := newPlan("Ana", "3001234567", 1)
		require.NoError(t, repo.Create(ctx, a))
		time.Sleep(2 * time.Millisecond)
		b := newPlan("Beto", "3007654321", 3)
		require.NoError(t, repo.Create(ctx, b))

		all, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.Len(t, all[1].Classes, 3)

		require.NoError(t, repo.Delete(ctx, a.ID))
		assert.ErrorIs(t, repo.Delete(ctx, a.ID), repository.ErrNotFound)
		_, err = repo.GetByID(ctx, a.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

// ContactRepository exercises a fresh, empty ContactRepository.
func ContactRepository(t *testing.T, newRepo func(t *testing.T) repository.ContactRepository) {
	t.Run("upsert replaces channel", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		c := &domain.Contact{
			Phone:   "3001234567",
			Channel: domain.ChannelPush,
			Push: &domain.PushSubscription{
				Endpoint: "https://push.example.com/abc",
				Keys:     domain.PushKeys{P256dh: "p", Auth: "a"},
			},
		}
		require.NoError(t, repo.Upsert(ctx, c))
		created := c.CreatedAt

		got, err := repo.GetByPhone(ctx, "3001234567")
		require.NoError(t, err)
		assert.Equal(t, domain.ChannelPush, got.Channel)
		require.NotNil(t, got.Push)
		assert.Equal(t, "https://push.example.com/abc", got.Push.Endpoint)

		wa := &domain.Contact{Phone: "3001234567", Channel: domain.ChannelWhatsApp, WhatsAppTo: "+573001234567", WhatsAppOpt: true}
		require.NoError(t, repo.Upsert(ctx, wa))
		got, err = repo.GetByPhone(ctx, "3001234567")
		require.NoError(t, err)
		assert.Equal(t, domain.ChannelWhatsApp, got.Channel)
		assert.Equal(t, "+573001234567", got.WhatsAppTo)
		assert.True(t, got.WhatsAppOpt)
		assert.Nil(t, got.Push)
		assert.True(t, got.CreatedAt.Equal(created), "created at survives upsert")
	})

	t.Run("telegram lookup and delete", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, &domain.Contact{Phone: "3005550000", Channel: domain.ChannelTelegram, TelegramChat: 4242}))

		got, err := repo.GetByTelegramChat(ctx, 4242)
		require.NoError(t, err)
		assert.Equal(t, "3005550000", got.Phone)

		_, err = repo.GetByTelegramChat(ctx, 1)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, repo.Delete(ctx, "3005550000"))
		assert.ErrorIs(t, repo.Delete(ctx, "3005550000"), repository.ErrNotFound)
		_, err = repo.GetByPhone(ctx, "3005550000")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
