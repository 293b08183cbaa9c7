package searchindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/model"
)

func TestIndexContact_PostsPayload(t *testing.T) {
	var got map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notes := "do not index"
	c := NewClient(srv.URL, zap.NewNop())
	c.IndexContact(context.Background(), &model.Contact{
		ID:         3,
		ContactID:  "CT-2026-Q1W2E3",
		Name:       "Ann",
		Status:     model.ContactStatusNew,
		Priority:   model.PriorityLow,
		AdminNotes: &notes,
	})

	assert.Equal(t, "/search/index/contact", path)
	assert.Equal(t, "CT-2026-Q1W2E3", got["contact_id"])
	assert.Equal(t, "low", got["priority"])
	assert.NotContains(t, got, "admin_notes")
}

func TestIndexContact_DisabledWithoutURL(t *testing.T) {
	c := NewClient("", zap.NewNop())
	assert.False(t, c.Enabled())
	c.IndexContact(context.Background(), &model.Contact{})
	c.IndexContactAsync(&model.Contact{})
}
