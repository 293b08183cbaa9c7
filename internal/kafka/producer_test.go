package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/model"
)

func TestNewProducer_DisabledWithoutBrokers(t *testing.T) {
	p := NewProducer(nil, "contacts", zap.NewNop())
	assert.False(t, p.Enabled())
	// no writer: must be a silent no-op
	p.ProduceContactEvent(context.Background(), EventContactCreated, &model.Contact{ContactID: "CT-2026-AAAAAA"})
	assert.NoError(t, p.Close())

	assert.False(t, NewProducer([]string{"localhost:9092"}, "", zap.NewNop()).Enabled())
}

func TestNewContactEvent_OmitsAdminNotes(t *testing.T) {
	notes := "internal only"
	uid := uint64(4)
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	c := &model.Contact{
		ID:         10,
		ContactID:  "CT-2026-ZX81QQ",
		Email:      "a@b.co",
		Service:    "support",
		Status:     model.ContactStatusInProgress,
		Priority:   model.PriorityHigh,
		HandledBy:  &uid,
		AdminNotes: &notes,
		DeletedAt:  gorm.DeletedAt{Time: at, Valid: true},
	}

	ev := NewContactEvent(EventContactDeleted, c, at)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "contact.deleted", m["event"])
	assert.Equal(t, "CT-2026-ZX81QQ", m["contact_id"])
	assert.Equal(t, "high", m["priority"])
	assert.NotContains(t, m, "admin_notes")
	assert.Contains(t, m, "deleted_at")
}
