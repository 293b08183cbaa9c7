// Package projection renders contacts for the admin API and for the public
// tracking page. Derived fields are computed from the entity and a supplied
// time, never stored.
package projection

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/psds-microservice/contact-service/internal/model"
)

const DisplayTimeFormat = "Jan 02, 2006 03:04 PM"

// Resource is the admin list view. admin_notes is left out.
type Resource struct {
	ID                uint64     `json:"id"`
	ContactID         string     `json:"contact_id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Phone             *string    `json:"phone"`
	Service           string     `json:"service"`
	Message           string     `json:"message"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	SLADeadline       time.Time  `json:"sla_deadline"`
	HandledBy         *uint64    `json:"handled_by"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	UpdationTimestamp *time.Time `json:"updation_timestamp"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func NewResource(c *model.Contact) Resource {
	return Resource{
		ID:                c.ID,
		ContactID:         c.ContactID,
		Name:              c.Name,
		Email:             c.Email,
		Phone:             c.Phone,
		Service:           c.Service,
		Message:           c.Message,
		Status:            string(c.Status),
		Priority:          string(c.Priority),
		SLADeadline:       c.SLADeadline,
		HandledBy:         c.HandledBy,
		RequestTimestamp:  c.RequestTimestamp,
		UpdationTimestamp: c.UpdationTimestamp,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func NewResources(cs []model.Contact) []Resource {
	out := make([]Resource, len(cs))
	for i := range cs {
		out[i] = NewResource(&cs[i])
	}
	return out
}

// Detail is the single-contact admin view with notes and SLA state.
type Detail struct {
	Resource
	AdminNotes    *string `json:"admin_notes"`
	StatusLabel   string  `json:"status_label"`
	PriorityLabel string  `json:"priority_label"`
	IsOverdue     bool    `json:"is_overdue"`
	TimeToSLA     *string `json:"time_to_sla"`
}

func NewDetail(c *model.Contact, now time.Time) Detail {
	return Detail{
		Resource:      NewResource(c),
		AdminNotes:    c.AdminNotes,
		StatusLabel:   StatusLabel(c.Status),
		PriorityLabel: PriorityLabel(c.Priority),
		IsOverdue:     IsOverdue(c, now),
		TimeToSLA:     TimeToSLA(c, now),
	}
}

// Track is what a customer sees. It has no admin fields by construction.
type Track struct {
	ContactID   string  `json:"contact_id"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	SubmittedAt string  `json:"submitted_at"`
	LastUpdated *string `json:"last_updated"`
	SLAStatus   *string `json:"sla_status"`
}

func NewTrack(c *model.Contact, now time.Time) Track {
	return Track{
		ContactID:   c.ContactID,
		Status:      StatusLabel(c.Status),
		Priority:    PriorityLabel(c.Priority),
		SubmittedAt: FormatTime(c.RequestTimestamp),
		LastUpdated: formatOptional(c.UpdationTimestamp),
		SLAStatus:   TimeToSLA(c, now),
	}
}

// StatusLabel turns in_progress into "In progress".
func StatusLabel(s model.ContactStatus) string {
	return upperFirst(strings.ReplaceAll(string(s), "_", " "))
}

func PriorityLabel(p model.Priority) string {
	return upperFirst(string(p))
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func FormatTime(t time.Time) string {
	return t.Format(DisplayTimeFormat)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func IsOverdue(c *model.Contact, now time.Time) bool {
	if c.SLADeadline.IsZero() || c.Status.Terminal() {
		return false
	}
	return c.SLADeadline.Before(now)
}

// TimeToSLA describes the remaining or exceeded allowance in whole hours.
// Closed-out contacts have none.
func TimeToSLA(c *model.Contact, now time.Time) *string {
	if c.SLADeadline.IsZero() || c.Status.Terminal() {
		return nil
	}
	hours := int(math.Trunc(c.SLADeadline.Sub(now).Hours()))
	var s string
	if c.SLADeadline.Before(now) {
		if hours < 0 {
			hours = -hours
		}
		s = fmt.Sprintf("Overdue by %d hours", hours)
	} else {
		s = fmt.Sprintf("%d hours remaining", hours)
	}
	return &s
}
