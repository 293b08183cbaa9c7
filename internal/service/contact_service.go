package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/cache"
	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/kafka"
	"github.com/psds-microservice/contact-service/internal/lifecycle"
	"github.com/psds-microservice/contact-service/internal/metrics"
	"github.com/psds-microservice/contact-service/internal/model"
	"github.com/psds-microservice/contact-service/internal/projection"
	"github.com/psds-microservice/contact-service/internal/query"
)

const (
	// DuplicateWindow is how long an identical (email, message) pair is refused.
	DuplicateWindow = 5 * time.Minute

	insertRetries = 3
	savepointName = "contact_insert"

	// eventTimeout bounds one background event publish.
	eventTimeout = 5 * time.Second
)

// ContactServicer is what the HTTP layer depends on.
type ContactServicer interface {
	Submit(ctx context.Context, in SubmitInput) (*model.Contact, error)
	List(ctx context.Context, p query.Params) ([]model.Contact, query.Page, error)
	Show(ctx context.Context, identifier string) (*model.Contact, error)
	GetByID(ctx context.Context, id uint64) (*model.Contact, error)
	Update(ctx context.Context, id uint64, ch lifecycle.Changes) (*model.Contact, error)
	Assign(ctx context.Context, id, userID uint64) (*model.Contact, error)
	Delete(ctx context.Context, id uint64) (*model.Contact, error)
	Stats(ctx context.Context) (*Stats, error)
	Overdue(ctx context.Context) ([]model.Contact, error)
	Track(ctx context.Context, contactID string) (*projection.Track, error)
	Now() time.Time
}

type noopEvents struct{}

func (noopEvents) ProduceContactEvent(context.Context, string, *model.Contact) {}

type Deps struct {
	DB        *gorm.DB
	Lifecycle *lifecycle.Engine
	Clock     clock.Clock
	Cache     *cache.Versioned
	Events    kafka.ContactEventProducer
	Log       *zap.Logger
}

type ContactService struct {
	db        *gorm.DB
	lifecycle *lifecycle.Engine
	clock     clock.Clock
	cache     *cache.Versioned
	events    kafka.ContactEventProducer
	log       *zap.Logger

	inflight sync.WaitGroup
}

func NewContactService(d Deps) *ContactService {
	s := &ContactService{
		db:        d.DB,
		lifecycle: d.Lifecycle,
		clock:     d.Clock,
		cache:     d.Cache,
		events:    d.Events,
		log:       d.Log,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.lifecycle == nil {
		s.lifecycle = lifecycle.New(s.clock)
	}
	if s.cache == nil {
		s.cache = cache.NewVersioned(cache.NewMemory(s.clock), "contacts", 5*time.Minute)
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *ContactService) Now() time.Time {
	return s.clock.Now()
}

// SubmitInput is a public contact-form submission.
type SubmitInput struct {
	Name     string
	Email    string
	Phone    *string
	Service  string
	Message  string
	Priority *model.Priority
}

// Submit creates a contact unless the same email sent the same message in the
// last DuplicateWindow. The check and the insert share one transaction, and on
// Postgres an advisory lock keyed on (email, message) serializes concurrent
// identical submissions.
func (s *ContactService) Submit(ctx context.Context, in SubmitInput) (*model.Contact, error) {
	now := s.clock.Now()
	c := &model.Contact{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Service: in.Service,
		Message: in.Message,
		Status:  model.ContactStatusNew,
	}
	if in.Priority != nil {
		c.Priority = *in.Priority
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSubmission(tx, in.Email, in.Message); err != nil {
			return errs.Persistence("lock submission", err)
		}
		var recent model.Contact
		err := tx.Where("email = ? AND message = ? AND created_at > ?", in.Email, in.Message, now.Add(-DuplicateWindow)).
			Order("created_at DESC").
			Take(&recent).Error
		if err == nil {
			return &errs.DuplicateSubmissionError{ContactID: recent.ContactID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Persistence("duplicate check", err)
		}
		return s.insert(ctx, tx, c)
	})
	if err != nil {
		var dup *errs.DuplicateSubmissionError
		if errors.As(err, &dup) {
			metrics.RecordDuplicateSubmission()
			s.log.Info("duplicate contact submission", zap.String("email", in.Email), zap.String("contact_id", dup.ContactID))
			return nil, err
		}
		s.log.Error("contact submission failed", zap.String("email", in.Email), zap.String("service", in.Service), zap.Error(err))
		return nil, err
	}

	metrics.RecordContactSubmission(string(c.Priority))
	s.log.Info("new contact submission",
		zap.String("contact_id", c.ContactID),
		zap.Uint64("id", c.ID),
		zap.String("email", c.Email),
		zap.String("service", c.Service),
		zap.String("priority", string(c.Priority)),
		zap.Time("sla_deadline", c.SLADeadline),
	)
	s.afterWrite(ctx, kafka.EventContactCreated, c)
	return c, nil
}

// Seed inserts an administratively prepared contact. Workflow fields the draft
// leaves empty are derived; there is no duplicate guard.
func (s *ContactService) Seed(ctx context.Context, c *model.Contact) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insert(ctx, tx, c)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, kafka.EventContactCreated, c)
	return nil
}

// insert derives workflow fields and writes the row. The unique index on
// contact_id is authoritative: if a generated id loses a race, the insert is
// rolled back to a savepoint and retried with a fresh id.
func (s *ContactService) insert(ctx context.Context, tx *gorm.DB, c *model.Contact) error {
	generated := c.ContactID == ""
	for attempt := 0; ; attempt++ {
		if err := s.lifecycle.OnCreate(ctx, c, contactIDExists(tx)); err != nil {
			if errors.Is(err, errs.ErrGenerationExhausted) {
				return err
			}
			return errs.Persistence("generate contact id", err)
		}
		if err := tx.SavePoint(savepointName).Error; err != nil {
			return errs.Persistence("savepoint", err)
		}
		err := tx.Create(c).Error
		if err == nil {
			return nil
		}
		if generated && errors.Is(err, gorm.ErrDuplicatedKey) && attempt < insertRetries {
			if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
				return errs.Persistence("rollback to savepoint", rbErr)
			}
			s.log.Warn("contact_id collision on insert, regenerating", zap.String("contact_id", c.ContactID))
			c.ContactID = ""
			continue
		}
		return errs.Persistence("insert contact", err)
	}
}

func contactIDExists(tx *gorm.DB) lifecycle.ExistsFunc {
	return func(ctx context.Context, contactID string) (bool, error) {
		var n int64
		err := tx.WithContext(ctx).Unscoped().Model(&model.Contact{}).Where("contact_id = ?", contactID).Count(&n).Error
		return n > 0, err
	}
}

func lockSubmission(tx *gorm.DB, email, message string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	h := fnv.New64a()
	h.Write([]byte(email))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(h.Sum64())).Error
}

// afterWrite invalidates derived views and publishes the event. Neither can
// fail the request.
func (s *ContactService) afterWrite(ctx context.Context, event string, c *model.Contact) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("stats cache invalidation failed", zap.String("event", event), zap.Error(err))
	}
	s.publish(event, c)
}

// publish is fire-and-forget: the event goes out even if the request is
// cancelled, bounded by its own timeout.
func (s *ContactService) publish(event string, c *model.Contact) {
	snapshot := *c
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		s.events.ProduceContactEvent(ctx, event, &snapshot)
	}()
}

// Drain blocks until every event dispatched so far has been handed to the
// producer. Call it before closing the producer.
func (s *ContactService) Drain() {
	s.inflight.Wait()
}

func (s *ContactService) List(ctx context.Context, p query.Params) ([]model.Contact, query.Page, error) {
	if p.HandledBy != nil {
		ok, err := s.UserExists(ctx, *p.HandledBy)
		if err != nil {
			return nil, query.Page{}, err
		}
		if !ok {
			return nil, query.Page{}, errs.Invalid("handled_by", "the selected user does not exist")
		}
	}
	items, page, err := query.Paginate(ctx, s.db, p, s.clock.Now())
	if err != nil {
		s.log.Error("failed to list contacts", zap.Error(err))
		return nil, query.Page{}, errs.Persistence("list contacts", err)
	}
	return items, page, nil
}

// Show looks the identifier up as a contact_id first, then as a numeric id.
func (s *ContactService) Show(ctx context.Context, identifier string) (*model.Contact, error) {
	identifier = strings.TrimSpace(identifier)
	var c model.Contact
	err := s.db.WithContext(ctx).Where("contact_id = ?", identifier).Take(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Persistence("show contact", err)
	}
	id, perr := strconv.ParseUint(identifier, 10, 64)
	if perr != nil {
		return nil, errs.ErrContactNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *ContactService) GetByID(ctx context.Context, id uint64) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrContactNotFound
		}
		return nil, errs.Persistence("get contact", err)
	}
	return &c, nil
}

func (s *ContactService) Update(ctx context.Context, id uint64, ch lifecycle.Changes) (*model.Contact, error) {
	if ch.HandledBy.Set && ch.HandledBy.Value != nil {
		ok, err := s.UserExists(ctx, *ch.HandledBy.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.Invalid("handled_by", "the selected user does not exist")
		}
	}
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldStatus, oldPriority := c.Status, c.Priority

	updates := s.lifecycle.OnUpdate(c, ch)
	if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
		s.log.Error("failed to update contact", zap.Uint64("id", id), zap.Error(err))
		return nil, errs.Persistence("update contact", err)
	}

	metrics.RecordContactChange("update")
	s.log.Info("contact updated",
		zap.String("contact_id", c.ContactID),
		zap.Uint64("id", c.ID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(c.Status)),
		zap.String("old_priority", string(oldPriority)),
		zap.String("new_priority", string(c.Priority)),
	)
	s.afterWrite(ctx, kafka.EventContactUpdated, c)
	return c, nil
}

// Assign hands the contact to userID; a new contact moves to in_progress.
func (s *ContactService) Assign(ctx context.Context, id, userID uint64) (*model.Contact, error) {
	ok, err := s.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Invalid("user_id", "the selected user does not exist")
	}
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := s.lifecycle.OnAssign(c, userID)
	if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
		s.log.Error("failed to assign contact", zap.Uint64("id", id), zap.Error(err))
		return nil, errs.Persistence("assign contact", err)
	}

	metrics.RecordContactChange("assign")
	s.log.Info("contact assigned", zap.String("contact_id", c.ContactID), zap.Uint64("assigned_to", userID))
	s.afterWrite(ctx, kafka.EventContactAssigned, c)
	return c, nil
}

// Delete soft-deletes the contact. The row stays for audit and keeps its
// contact_id reserved.
func (s *ContactService) Delete(ctx context.Context, id uint64) (*model.Contact, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(c).Error; err != nil {
		s.log.Error("failed to delete contact", zap.Uint64("id", id), zap.Error(err))
		return nil, errs.Persistence("delete contact", err)
	}
	if !c.DeletedAt.Valid {
		c.DeletedAt = gorm.DeletedAt{Time: s.clock.Now(), Valid: true}
	}

	metrics.RecordContactChange("delete")
	s.log.Info("contact deleted", zap.String("contact_id", c.ContactID), zap.Uint64("id", id))
	s.afterWrite(ctx, kafka.EventContactDeleted, c)
	return c, nil
}

// Overdue lists open contacts past their deadline, most overdue first.
func (s *ContactService) Overdue(ctx context.Context) ([]model.Contact, error) {
	var items []model.Contact
	err := s.db.WithContext(ctx).
		Scopes(query.Overdue(s.clock.Now())).
		Order("sla_deadline ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		s.log.Error("failed to retrieve overdue contacts", zap.Error(err))
		return nil, errs.Persistence("overdue contacts", err)
	}
	return items, nil
}

// Track returns the customer-safe view of a contact.
func (s *ContactService) Track(ctx context.Context, contactID string) (*projection.Track, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).Where("contact_id = ?", strings.TrimSpace(contactID)).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrContactNotFound
		}
		s.log.Error("failed to track contact", zap.String("contact_id", contactID), zap.Error(err))
		return nil, errs.Persistence("track contact", err)
	}
	t := projection.NewTrack(&c, s.clock.Now())
	return &t, nil
}

func (s *ContactService) UserExists(ctx context.Context, id uint64) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errs.Persistence("user lookup", err)
	}
	return n > 0, nil
}

// CreateUser registers an identity that contacts can be assigned to.
func (s *ContactService) CreateUser(ctx context.Context, name, email string, admin bool) (*model.User, error) {
	u := &model.User{Name: strings.TrimSpace(name), Email: strings.ToLower(strings.TrimSpace(email)), IsAdmin: admin}
	if u.Name == "" {
		return nil, errs.Invalid("name", "is required")
	}
	if u.Email == "" {
		return nil, errs.Invalid("email", "is required")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", u.Email).Count(&n).Error; err != nil {
		return nil, errs.Persistence("user lookup", err)
	}
	if n > 0 {
		return nil, errs.Invalid("email", "has already been taken")
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Invalid("email", "has already been taken")
		}
		return nil, errs.Persistence("create user", err)
	}
	return u, nil
}

// All streams every contact, soft-deleted included, in id order.
func (s *ContactService) All(ctx context.Context, batch int, fn func([]model.Contact) error) error {
	var rows []model.Contact
	res := s.db.WithContext(ctx).Unscoped().Order("id ASC").FindInBatches(&rows, batch, func(_ *gorm.DB, _ int) error {
		return fn(rows)
	})
	return res.Error
}
