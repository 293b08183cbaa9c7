// Package lifecycle derives the workflow fields of a contact when it is
// created and when an administrator changes it.
package lifecycle

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/model"
	"github.com/psds-microservice/contact-service/internal/triage"
)

const (
	DefaultMaxAttempts = 50
	suffixLen          = 6
	alphabet           = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ExistsFunc reports whether a contact_id is taken by any record, soft-deleted
// ones included.
type ExistsFunc func(ctx context.Context, contactID string) (bool, error)

type Engine struct {
	clock       clock.Clock
	maxAttempts int
	suffix      func() (string, error)
}

type Option func(*Engine)

func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithSuffixSource replaces the random suffix generator.
func WithSuffixSource(fn func() (string, error)) Option {
	return func(e *Engine) { e.suffix = fn }
}

func New(clk clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		clock:       clk,
		maxAttempts: DefaultMaxAttempts,
		suffix:      randomSuffix,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func randomSuffix() (string, error) {
	buf := make([]byte, suffixLen)
	size := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// GenerateContactID builds CT-<year>-<suffix> values until one is free.
func (e *Engine) GenerateContactID(ctx context.Context, exists ExistsFunc) (string, error) {
	year := e.clock.Now().Year()
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		suffix, err := e.suffix()
		if err != nil {
			return "", fmt.Errorf("contact id suffix: %w", err)
		}
		id := fmt.Sprintf("CT-%04d-%s", year, suffix)
		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errs.ErrGenerationExhausted
}

// OnCreate fills every workflow field the draft leaves empty. Fields the
// caller already set are kept as is.
func (e *Engine) OnCreate(ctx context.Context, draft *model.Contact, exists ExistsFunc) error {
	now := e.clock.Now()
	if draft.ContactID == "" {
		id, err := e.GenerateContactID(ctx, exists)
		if err != nil {
			return err
		}
		draft.ContactID = id
	}
	if draft.RequestTimestamp.IsZero() {
		draft.RequestTimestamp = now
	}
	if draft.Priority == "" {
		draft.Priority = triage.Classify(draft.Service)
	}
	if draft.SLADeadline.IsZero() {
		draft.SLADeadline = triage.Deadline(draft.RequestTimestamp, draft.Priority)
	}
	if draft.Status == "" {
		draft.Status = model.ContactStatusNew
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = now
	}
	return nil
}

// Nullable is a patch value that distinguishes "not sent" from "set to null".
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Changes is an administrative patch.
type Changes struct {
	Status     *model.ContactStatus
	Priority   *model.Priority
	HandledBy  Nullable[uint64]
	AdminNotes Nullable[string]
}

func (c Changes) Empty() bool {
	return c.Status == nil && c.Priority == nil && !c.HandledBy.Set && !c.AdminNotes.Set
}

// OnUpdate applies ch to c and returns the column updates to persist.
// updation_timestamp is always stamped. A priority change re-anchors the SLA
// deadline on the original request time. Status moves are not restricted.
func (e *Engine) OnUpdate(c *model.Contact, ch Changes) map[string]interface{} {
	now := e.clock.Now()
	updates := map[string]interface{}{}

	c.UpdationTimestamp = &now
	c.UpdatedAt = now
	updates["updation_timestamp"] = now
	updates["updated_at"] = now

	if ch.Status != nil {
		c.Status = *ch.Status
		updates["status"] = c.Status
	}
	if ch.Priority != nil && *ch.Priority != c.Priority {
		c.Priority = *ch.Priority
		c.SLADeadline = triage.Deadline(c.RequestTimestamp, c.Priority)
		updates["priority"] = c.Priority
		updates["sla_deadline"] = c.SLADeadline
	}
	if ch.HandledBy.Set {
		c.HandledBy = ch.HandledBy.Value
		updates["handled_by"] = c.HandledBy
	}
	if ch.AdminNotes.Set {
		c.AdminNotes = ch.AdminNotes.Value
		updates["admin_notes"] = c.AdminNotes
	}
	return updates
}

// OnAssign hands the contact to userID, moving a new contact to in_progress.
func (e *Engine) OnAssign(c *model.Contact, userID uint64) map[string]interface{} {
	ch := Changes{HandledBy: Value(userID)}
	if c.Status == model.ContactStatusNew {
		st := model.ContactStatusInProgress
		ch.Status = &st
	}
	return e.OnUpdate(c, ch)
}
