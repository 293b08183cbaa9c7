package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/cache"
	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/database"
	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/kafka"
	"github.com/psds-microservice/contact-service/internal/lifecycle"
	"github.com/psds-microservice/contact-service/internal/model"
	"github.com/psds-microservice/contact-service/internal/query"
)

// Wednesday.
var t0 = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type recordedEvent struct {
	name        string
	contactID   string
	ctxErr      error
	hasDeadline bool
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
	// gate, when set, holds every publish until it is closed.
	gate chan struct{}
}

func (f *fakeEvents) ProduceContactEvent(ctx context.Context, event string, c *model.Contact) {
	if f.gate != nil {
		<-f.gate
	}
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	f.events = append(f.events, recordedEvent{name: event, contactID: c.ContactID, ctxErr: ctx.Err(), hasDeadline: hasDeadline})
	f.mu.Unlock()
}

// published waits for in-flight publishes and returns what was recorded.
func (fx *fixture) published() []recordedEvent {
	fx.svc.Drain()
	fx.events.mu.Lock()
	defer fx.events.mu.Unlock()
	return append([]recordedEvent(nil), fx.events.events...)
}

type fixture struct {
	svc    *ContactService
	db     *gorm.DB
	clk    *clock.Mock
	events *fakeEvents
}

func newFixture(t *testing.T, opts ...lifecycle.Option) *fixture {
	t.Helper()
	clk := clock.NewMock(t0)
	db, err := database.OpenMemory(clk, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	ev := &fakeEvents{}
	svc := NewContactService(Deps{
		DB:        db,
		Lifecycle: lifecycle.New(clk, opts...),
		Clock:     clk,
		Cache:     cache.NewVersioned(cache.NewMemory(clk), "contacts", 5*time.Minute),
		Events:    ev,
		Log:       zap.NewNop(),
	})
	return &fixture{svc: svc, db: db, clk: clk, events: ev}
}

func submission(email, message, service string) SubmitInput {
	return SubmitInput{Name: "Ann Smith", Email: email, Service: service, Message: message}
}

func (f *fixture) seed(t *testing.T, c model.Contact) *model.Contact {
	t.Helper()
	if c.Name == "" {
		c.Name = "Seeded"
	}
	if c.Email == "" {
		c.Email = "seed@example.com"
	}
	if c.Service == "" {
		c.Service = "support"
	}
	if c.Message == "" {
		c.Message = "seeded message"
	}
	require.NoError(t, f.svc.Seed(context.Background(), &c))
	return &c
}

func (f *fixture) user(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), "Agent", email, false)
	require.NoError(t, err)
	return u
}

func TestSubmit_DerivesWorkflowFields(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Submit(context.Background(), submission("ann@example.com", "Site is down", "technical_issue"))
	require.NoError(t, err)

	assert.NotZero(t, c.ID)
	assert.Regexp(t, `^CT-2026-[A-Z0-9]{6}$`, c.ContactID)
	assert.Equal(t, model.PriorityUrgent, c.Priority)
	assert.Equal(t, model.ContactStatusNew, c.Status)
	assert.True(t, c.SLADeadline.Equal(t0.Add(time.Hour)))
	assert.Nil(t, c.HandledBy)
	events := f.published()
	require.Len(t, events, 1)
	assert.Equal(t, kafka.EventContactCreated, events[0].name)

	stored, err := f.svc.Show(context.Background(), c.ContactID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.True(t, stored.RequestTimestamp.Equal(t0))
}

func TestSubmit_ExplicitPriorityWins(t *testing.T) {
	f := newFixture(t)
	low := model.PriorityLow
	in := submission("ann@example.com", "hello", "technical_issue")
	in.Priority = &low
	c, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, c.Priority)
	assert.True(t, c.SLADeadline.Equal(t0.Add(72*time.Hour)))
}

func TestSubmit_DuplicateWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, submission("dup@example.com", "Same words", "support"))
	require.NoError(t, err)

	f.clk.Advance(4 * time.Minute)
	_, err = f.svc.Submit(ctx, submission("dup@example.com", "Same words", "support"))
	var dup *errs.DuplicateSubmissionError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, first.ContactID, dup.ContactID)

	// Different message from the same address is fine.
	_, err = f.svc.Submit(ctx, submission("dup@example.com", "Other words", "support"))
	require.NoError(t, err)

	f.clk.Advance(time.Minute + time.Second)
	second, err := f.svc.Submit(ctx, submission("dup@example.com", "Same words", "support"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ContactID, second.ContactID)

	var n int64
	require.NoError(t, f.db.Model(&model.Contact{}).Where("email = ?", "dup@example.com").Count(&n).Error)
	assert.EqualValues(t, 3, n)
}

func TestSubmit_SoftDeletedIDStaysReserved(t *testing.T) {
	suffixes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	f := newFixture(t, lifecycle.WithSuffixSource(func() (string, error) {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s, nil
	}))
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, submission("a@example.com", "one", "support"))
	require.NoError(t, err)
	assert.Equal(t, "CT-2026-AAAAAA", first.ContactID)

	_, err = f.svc.Delete(ctx, first.ID)
	require.NoError(t, err)

	second, err := f.svc.Submit(ctx, submission("b@example.com", "two", "support"))
	require.NoError(t, err)
	assert.Equal(t, "CT-2026-BBBBBB", second.ContactID)
}

func TestSubmit_GenerationExhausted(t *testing.T) {
	f := newFixture(t,
		lifecycle.WithMaxAttempts(3),
		lifecycle.WithSuffixSource(func() (string, error) { return "ZZZZZZ", nil }),
	)
	f.seed(t, model.Contact{ContactID: "CT-2026-ZZZZZZ"})

	_, err := f.svc.Submit(context.Background(), submission("x@example.com", "hi", "support"))
	assert.ErrorIs(t, err, errs.ErrGenerationExhausted)
}

func TestDelete_HidesButKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, model.Contact{})

	deleted, err := f.svc.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted.DeletedAt.Valid)

	_, err = f.svc.GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
	_, err = f.svc.Show(ctx, c.ContactID)
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
	_, err = f.svc.Track(ctx, c.ContactID)
	assert.ErrorIs(t, err, errs.ErrContactNotFound)

	items, page, err := f.svc.List(ctx, query.Defaults())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.EqualValues(t, 0, page.Total)

	var n int64
	require.NoError(t, f.db.Unscoped().Model(&model.Contact{}).Where("id = ?", c.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Delete(ctx, c.ID)
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
}

func TestShow_ByContactIDOrNumericID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, model.Contact{})

	got, err := f.svc.Show(ctx, c.ContactID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = f.svc.Show(ctx, fmt.Sprint(c.ID))
	require.NoError(t, err)
	assert.Equal(t, c.ContactID, got.ContactID)

	_, err = f.svc.Show(ctx, "CT-1999-NOPE00")
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
	_, err = f.svc.Show(ctx, "9999")
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
}

func TestList_PriorityOrdering(t *testing.T) {
	f := newFixture(t)
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityUrgent} {
		f.seed(t, model.Contact{Priority: p})
	}

	p := query.Defaults()
	p.SortBy = "priority"
	p.SortOrder = query.SortDesc
	items, _, err := f.svc.List(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, items, 4)
	got := make([]model.Priority, len(items))
	for i, c := range items {
		got[i] = c.Priority
	}
	assert.Equal(t, []model.Priority{model.PriorityUrgent, model.PriorityHigh, model.PriorityMedium, model.PriorityLow}, got)

	p.SortOrder = query.SortAsc
	items, _, err = f.svc.List(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, items[0].Priority)
	assert.Equal(t, model.PriorityUrgent, items[3].Priority)
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 150; i++ {
		f.seed(t, model.Contact{Email: fmt.Sprintf("u%d@example.com", i)})
	}

	p := query.Defaults()
	p.PerPage = 100
	items, page, err := f.svc.List(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, items, 100)
	assert.EqualValues(t, 150, page.Total)
	assert.Equal(t, 2, page.LastPage)
	assert.True(t, page.HasMorePages)
	require.NotNil(t, page.From)
	assert.Equal(t, 1, *page.From)
	assert.Equal(t, 100, *page.To)

	p.Page = 2
	items, page, err = f.svc.List(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, items, 50)
	assert.False(t, page.HasMorePages)
	assert.Equal(t, 150, *page.To)

	p.Page = 5
	items, page, err = f.svc.List(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Nil(t, page.From)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "agent@example.com")

	overdue := f.seed(t, model.Contact{Priority: model.PriorityHigh, RequestTimestamp: t0.Add(-10 * time.Hour), Name: "Late One"})
	f.seed(t, model.Contact{Priority: model.PriorityHigh, RequestTimestamp: t0.Add(-10 * time.Hour), Status: model.ContactStatusResolved})
	f.seed(t, model.Contact{Priority: model.PriorityLow, Email: "Bob@Example.com", Message: "100% broken_link"})
	assigned := f.seed(t, model.Contact{Priority: model.PriorityUrgent, HandledBy: &u.ID})

	p := query.Defaults()
	p.OverdueOnly = true
	items, _, err := f.svc.List(ctx, p)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, overdue.ID, items[0].ID)

	p = query.Defaults()
	p.HighPriorityOnly = true
	items, _, err = f.svc.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	p = query.Defaults()
	p.Search = "bob@example"
	items, _, err = f.svc.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	p.Search = "100%"
	items, _, err = f.svc.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	p.Search = "late"
	items, _, err = f.svc.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	p = query.Defaults()
	p.HandledBy = &u.ID
	items, _, err = f.svc.List(ctx, p)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, assigned.ID, items[0].ID)

	missing := uint64(4242)
	p.HandledBy = &missing
	_, _, err = f.svc.List(ctx, p)
	assert.True(t, errs.IsValidation(err))
}

func TestUpdate_PriorityChangeReanchorsSLA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Submit(ctx, submission("ann@example.com", "question", "general_inquiry"))
	require.NoError(t, err)
	assert.Equal(t, model.PriorityMedium, c.Priority)

	f.clk.Advance(3 * time.Hour)
	urgent := model.PriorityUrgent
	notes := "called back"
	updated, err := f.svc.Update(ctx, c.ID, lifecycle.Changes{Priority: &urgent, AdminNotes: lifecycle.Value(notes)})
	require.NoError(t, err)
	assert.True(t, updated.SLADeadline.Equal(t0.Add(time.Hour)), "anchored on request time, not now")
	require.NotNil(t, updated.UpdationTimestamp)
	assert.True(t, updated.UpdationTimestamp.Equal(t0.Add(3*time.Hour)))

	stored, err := f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityUrgent, stored.Priority)
	assert.True(t, stored.SLADeadline.Equal(t0.Add(time.Hour)))
	require.NotNil(t, stored.AdminNotes)
	assert.Equal(t, notes, *stored.AdminNotes)

	overdue, err := f.svc.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, c.ID, overdue[0].ID)
}

func TestUpdate_HandledByValidationAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, model.Contact{})
	u := f.user(t, "agent@example.com")

	_, err := f.svc.Update(ctx, c.ID, lifecycle.Changes{HandledBy: lifecycle.Value(uint64(999))})
	var ve *errs.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "handled_by", ve.Field)

	updated, err := f.svc.Update(ctx, c.ID, lifecycle.Changes{HandledBy: lifecycle.Value(u.ID)})
	require.NoError(t, err)
	require.NotNil(t, updated.HandledBy)

	updated, err = f.svc.Update(ctx, c.ID, lifecycle.Changes{HandledBy: lifecycle.Null[uint64]()})
	require.NoError(t, err)
	assert.Nil(t, updated.HandledBy)
	stored, err := f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.HandledBy)

	_, err = f.svc.Update(ctx, 12345, lifecycle.Changes{})
	assert.ErrorIs(t, err, errs.ErrContactNotFound)
}

func TestAssign_EscalatesNewOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "agent@example.com")
	fresh := f.seed(t, model.Contact{})
	done := f.seed(t, model.Contact{Status: model.ContactStatusResolved})

	got, err := f.svc.Assign(ctx, fresh.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactStatusInProgress, got.Status)
	require.NotNil(t, got.HandledBy)
	assert.Equal(t, u.ID, *got.HandledBy)

	got, err = f.svc.Assign(ctx, done.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ContactStatusResolved, got.Status)

	_, err = f.svc.Assign(ctx, fresh.ID, 777)
	assert.True(t, errs.IsValidation(err))

	events := f.published()
	last := events[len(events)-1]
	assert.Equal(t, kafka.EventContactAssigned, last.name)
}

func TestStats_CachedUntilWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, model.Contact{Priority: model.PriorityUrgent})
	f.seed(t, model.Contact{Priority: model.PriorityLow, RequestTimestamp: t0.Add(-100 * time.Hour)})

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.ByStatus["new"])
	assert.EqualValues(t, 0, st.ByStatus["closed"])
	assert.EqualValues(t, 1, st.ByPriority["urgent"])
	assert.EqualValues(t, 2, st.ByTime.Today)
	assert.EqualValues(t, 2, st.Performance.Unassigned)
	assert.EqualValues(t, 1, st.Performance.Overdue)
	assert.EqualValues(t, 1, st.Performance.HighPriorityPending)
	assert.EqualValues(t, 1, st.Recent.UrgentToday)
	assert.Nil(t, st.Performance.AvgResponseTime)

	// Rows written behind the service's back are not visible until a write
	// through the service invalidates the cache.
	require.NoError(t, f.db.Model(&model.Contact{}).Where("priority = ?", model.PriorityLow).Update("status", model.ContactStatusClosed).Error)
	st, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.ByStatus["new"])

	c := f.seed(t, model.Contact{Priority: model.PriorityMedium})
	st, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.ByStatus["new"])
	assert.EqualValues(t, 1, st.ByStatus["closed"])
	assert.EqualValues(t, 3, st.ByTime.ThisWeek)

	f.clk.Advance(30 * time.Minute)
	status := model.ContactStatusResolved
	_, err = f.svc.Update(ctx, c.ID, lifecycle.Changes{Status: &status})
	require.NoError(t, err)
	st, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Performance.AvgResponseTime)
	assert.InDelta(t, 30.0, *st.Performance.AvgResponseTime, 0.01)
}

func TestStats_OpenWorkExcludesClosedOut(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Contact{Status: model.ContactStatusInProgress, Priority: model.PriorityHigh})
	f.seed(t, model.Contact{Status: model.ContactStatusResolved, Priority: model.PriorityLow})
	f.seed(t, model.Contact{Status: model.ContactStatusClosed, Priority: model.PriorityUrgent})
	gone := f.seed(t, model.Contact{Priority: model.PriorityUrgent})
	_, err := f.svc.Delete(context.Background(), gone.ID)
	require.NoError(t, err)

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.ByStatus["total"])
	assert.EqualValues(t, 1, st.ByStatus["in_progress"])
	assert.EqualValues(t, 1, st.ByStatus["resolved"])
	assert.EqualValues(t, 0, st.ByStatus["new"])
	assert.EqualValues(t, 1, st.Performance.HighPriorityPending)
	assert.EqualValues(t, 1, st.Performance.Unassigned)
}

func TestEvents_PublishedInBackgroundWithOwnDeadline(t *testing.T) {
	f := newFixture(t)
	f.events.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	c, err := f.svc.Submit(ctx, submission("bob@example.com", "Invoice question", "billing_dispute"))
	require.NoError(t, err)
	cancel()

	// Submit returned while the publish is still held.
	f.events.mu.Lock()
	assert.Empty(t, f.events.events)
	f.events.mu.Unlock()

	close(f.events.gate)
	events := f.published()
	require.Len(t, events, 1)
	assert.Equal(t, c.ContactID, events[0].contactID)
	assert.NoError(t, events[0].ctxErr)
	assert.True(t, events[0].hasDeadline)
}

func TestStartOfWeek_Monday(t *testing.T) {
	assert.Equal(t, time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC), startOfWeek(t0))
	sunday := time.Date(2026, 6, 14, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC), startOfWeek(sunday))
}

func TestTrack_CustomerView(t *testing.T) {
	f := newFixture(t)
	notes := "internal"
	c := f.seed(t, model.Contact{Priority: model.PriorityHigh, AdminNotes: &notes})

	tr, err := f.svc.Track(context.Background(), c.ContactID)
	require.NoError(t, err)
	assert.Equal(t, c.ContactID, tr.ContactID)
	assert.Equal(t, "New", tr.Status)
	assert.Equal(t, "High", tr.Priority)
	require.NotNil(t, tr.SLAStatus)
	assert.Equal(t, "4 hours remaining", *tr.SLAStatus)
}

func TestCreateUser_UniqueEmail(t *testing.T) {
	f := newFixture(t)
	f.user(t, "agent@example.com")
	_, err := f.svc.CreateUser(context.Background(), "Other", "Agent@Example.com", true)
	assert.True(t, errs.IsValidation(err))
}
