package model

import (
	"time"

	"gorm.io/gorm"
)

type ContactStatus string

const (
	ContactStatusNew        ContactStatus = "new"
	ContactStatusInProgress ContactStatus = "in_progress"
	ContactStatusResolved   ContactStatus = "resolved"
	ContactStatusClosed     ContactStatus = "closed"
)

// Statuses lists every status in workflow order.
func Statuses() []ContactStatus {
	return []ContactStatus{ContactStatusNew, ContactStatusInProgress, ContactStatusResolved, ContactStatusClosed}
}

func (s ContactStatus) Valid() bool {
	for _, v := range Statuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the status closes the SLA clock.
func (s ContactStatus) Terminal() bool {
	return s == ContactStatusResolved || s == ContactStatusClosed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

func (p Priority) Valid() bool {
	for _, v := range Priorities() {
		if p == v {
			return true
		}
	}
	return false
}

// Rank orders priorities urgent > high > medium > low; unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Services accepted by the public submission form.
var Services = []string{
	"technical_issue",
	"billing_dispute",
	"account_locked",
	"support",
	"complaint",
	"general_inquiry",
	"partnership",
	"sales_inquiry",
}

// Contact is a customer inquiry. ContactID is the public identifier and is
// unique across soft-deleted rows as well.
type Contact struct {
	ID        uint64        `gorm:"primaryKey" json:"id"`
	ContactID string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"contact_id"`
	Name      string        `gorm:"type:varchar(255);not null" json:"name"`
	Email     string        `gorm:"type:varchar(255);index;not null" json:"email"`
	Phone     *string       `gorm:"type:varchar(20)" json:"phone"`
	Service   string        `gorm:"type:varchar(100);index;not null" json:"service"`
	Message   string        `gorm:"type:text;not null" json:"message"`
	Status    ContactStatus `gorm:"type:varchar(32);index;not null;default:new" json:"status"`
	Priority  Priority      `gorm:"type:varchar(32);index;not null;default:medium" json:"priority"`

	SLADeadline       time.Time  `gorm:"column:sla_deadline;index" json:"sla_deadline"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	UpdationTimestamp *time.Time `json:"updation_timestamp"`

	HandledBy  *uint64 `gorm:"index" json:"handled_by"`
	AdminNotes *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Contact) TableName() string {
	return "contacts"
}

// User is an administrator identity that contacts can be assigned to.
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	IsAdmin   bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
