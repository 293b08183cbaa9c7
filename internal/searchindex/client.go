package searchindex

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/model"
)

const indexPath = "/search/index/contact"

// Client pushes contacts to search-service for indexing (best-effort, never blocks the API).
type Client struct {
	baseURL string
	http    *resty.Client
	log     *zap.Logger
}

// NewClient returns a client whose calls are no-ops when baseURL is empty.
func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		log:     log,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(200*time.Millisecond).
			SetHeader("Content-Type", "application/json"),
	}
}

// IndexContactPayload is the body of POST /search/index/contact. Admin notes
// are not indexed.
type IndexContactPayload struct {
	ID        int64  `json:"id"`
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Service   string `json:"service"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	Deleted   bool   `json:"deleted"`
}

func NewPayload(c *model.Contact) IndexContactPayload {
	return IndexContactPayload{
		ID:        int64(c.ID),
		ContactID: c.ContactID,
		Name:      c.Name,
		Email:     c.Email,
		Service:   c.Service,
		Message:   c.Message,
		Status:    string(c.Status),
		Priority:  string(c.Priority),
		Deleted:   c.DeletedAt.Valid,
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// IndexContact sends one contact. Failures are logged, not returned.
func (c *Client) IndexContact(ctx context.Context, contact *model.Contact) {
	if c.baseURL == "" {
		return
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(NewPayload(contact)).
		Post(indexPath)
	if err != nil {
		c.log.Warn("searchindex: request", zap.String("contact_id", contact.ContactID), zap.Error(err))
		return
	}
	if resp.IsError() {
		c.log.Warn("searchindex: unexpected status", zap.String("contact_id", contact.ContactID), zap.Int("status", resp.StatusCode()))
	}
}

// IndexContactAsync runs IndexContact on its own goroutine with a fresh timeout.
func (c *Client) IndexContactAsync(contact *model.Contact) {
	if c.baseURL == "" {
		return
	}
	cp := *contact
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.IndexContact(ctx, &cp)
	}()
}
