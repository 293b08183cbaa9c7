// Package query turns admin list parameters into filtered, ordered and
// paginated contact queries.
package query

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/model"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
	maxTextLen     = 100

	SortAsc  = "asc"
	SortDesc = "desc"
)

// SortFields are the accepted sort_by values.
var SortFields = []string{"created_at", "updated_at", "name", "email", "status", "priority", "sla_deadline", "contact_id"}

type Params struct {
	Status           *model.ContactStatus
	Priority         *model.Priority
	Service          string
	Search           string
	HandledBy        *uint64
	OverdueOnly      bool
	HighPriorityOnly bool
	SortBy           string
	SortOrder        string
	PerPage          int
	Page             int
}

func Defaults() Params {
	return Params{
		SortBy:    "created_at",
		SortOrder: SortDesc,
		PerPage:   DefaultPerPage,
		Page:      1,
	}
}

// ParseValues validates raw query-string parameters. The first offending
// field is reported as *errs.ValidationError.
func ParseValues(v url.Values) (Params, error) {
	p := Defaults()

	if s := v.Get("status"); s != "" {
		st := model.ContactStatus(s)
		if !st.Valid() {
			return p, errs.Invalid("status", "is not a valid status", statusNames()...)
		}
		p.Status = &st
	}
	if s := v.Get("priority"); s != "" {
		pr := model.Priority(s)
		if !pr.Valid() {
			return p, errs.Invalid("priority", "is not a valid priority", priorityNames()...)
		}
		p.Priority = &pr
	}
	if s := v.Get("service"); s != "" {
		if len(s) > maxTextLen {
			return p, errs.Invalid("service", fmt.Sprintf("must not exceed %d characters", maxTextLen))
		}
		p.Service = s
	}
	if s := v.Get("search"); s != "" {
		if len(s) > maxTextLen {
			return p, errs.Invalid("search", fmt.Sprintf("must not exceed %d characters", maxTextLen))
		}
		p.Search = s
	}
	if s := v.Get("handled_by"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil || id == 0 {
			return p, errs.Invalid("handled_by", "must be a positive integer")
		}
		p.HandledBy = &id
	}

	var err error
	if p.OverdueOnly, err = parseBool(v, "overdue_only"); err != nil {
		return p, err
	}
	if p.HighPriorityOnly, err = parseBool(v, "high_priority_only"); err != nil {
		return p, err
	}

	if s := v.Get("sort_by"); s != "" {
		if !contains(SortFields, s) {
			return p, errs.Invalid("sort_by", "is not a sortable field", SortFields...)
		}
		p.SortBy = s
	}
	if s := v.Get("sort_order"); s != "" {
		s = strings.ToLower(s)
		if s != SortAsc && s != SortDesc {
			return p, errs.Invalid("sort_order", "must be asc or desc", SortAsc, SortDesc)
		}
		p.SortOrder = s
	}
	if s := v.Get("per_page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxPerPage {
			return p, errs.Invalid("per_page", fmt.Sprintf("must be an integer between 1 and %d", MaxPerPage))
		}
		p.PerPage = n
	}
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, errs.Invalid("page", "must be a positive integer")
		}
		p.Page = n
	}
	return p, nil
}

func parseBool(v url.Values, key string) (bool, error) {
	switch strings.ToLower(v.Get(key)) {
	case "", "false", "0":
		return false, nil
	case "true", "1":
		return true, nil
	}
	return false, errs.Invalid(key, "must be a boolean", "true", "false", "1", "0")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func statusNames() []string {
	out := make([]string, 0, 4)
	for _, s := range model.Statuses() {
		out = append(out, string(s))
	}
	return out
}

func priorityNames() []string {
	out := make([]string, 0, 4)
	for _, p := range model.Priorities() {
		out = append(out, string(p))
	}
	return out
}

// Overdue keeps contacts past their SLA deadline that are still open.
func Overdue(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("sla_deadline < ?", now).
			Where("status NOT IN ?", []model.ContactStatus{model.ContactStatusResolved, model.ContactStatusClosed})
	}
}

func HighPriority(db *gorm.DB) *gorm.DB {
	return db.Where("priority IN ?", []model.Priority{model.PriorityHigh, model.PriorityUrgent})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func Search(term string) func(*gorm.DB) *gorm.DB {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR LOWER(contact_id) LIKE ? ESCAPE '\' OR LOWER(message) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern, pattern,
		)
	}
}

// Filters applies every requested predicate, AND-combined.
func (p Params) Filters(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.Status != nil {
			db = db.Where("status = ?", *p.Status)
		}
		if p.Priority != nil {
			db = db.Where("priority = ?", *p.Priority)
		}
		if p.Service != "" {
			db = db.Where("service = ?", p.Service)
		}
		if p.HandledBy != nil {
			db = db.Where("handled_by = ?", *p.HandledBy)
		}
		if p.OverdueOnly {
			db = db.Scopes(Overdue(now))
		}
		if p.HighPriorityOnly {
			db = db.Scopes(HighPriority)
		}
		if p.Search != "" {
			db = db.Scopes(Search(p.Search))
		}
		return db
	}
}

// priorityRankSQL ranks urgent highest so that DESC reads urgent..low.
func priorityRankSQL() string {
	var b strings.Builder
	b.WriteString("CASE priority")
	for _, pr := range model.Priorities() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", pr, pr.Rank())
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}

// Ordering sorts by the requested field with id as a tie-break.
func (p Params) Ordering() func(*gorm.DB) *gorm.DB {
	dir := SortDesc
	if p.SortOrder == SortAsc {
		dir = SortAsc
	}
	col := p.SortBy
	if !contains(SortFields, col) {
		col = "created_at"
	}
	if col == "priority" {
		col = priorityRankSQL()
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(col + " " + dir).Order("id " + dir)
	}
}

// Page is the pagination envelope returned with a list.
type Page struct {
	CurrentPage  int   `json:"current_page"`
	LastPage     int   `json:"last_page"`
	PerPage      int   `json:"per_page"`
	Total        int64 `json:"total"`
	From         *int  `json:"from"`
	To           *int  `json:"to"`
	HasMorePages bool  `json:"has_more_pages"`
}

func NewPage(total int64, page, perPage, count int) Page {
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	pg := Page{
		CurrentPage:  page,
		LastPage:     last,
		PerPage:      perPage,
		Total:        total,
		HasMorePages: page < last,
	}
	if count > 0 {
		from := (page-1)*perPage + 1
		to := from + count - 1
		pg.From, pg.To = &from, &to
	}
	return pg
}

// Paginate runs the filtered count and the ordered page fetch.
func Paginate(ctx context.Context, db *gorm.DB, p Params, now time.Time) ([]model.Contact, Page, error) {
	if p.PerPage < 1 || p.PerPage > MaxPerPage {
		p.PerPage = DefaultPerPage
	}
	if p.Page < 1 {
		p.Page = 1
	}
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&model.Contact{}).Scopes(p.Filters(now))
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, Page{}, err
	}
	items := make([]model.Contact, 0, p.PerPage)
	if err := base().Scopes(p.Ordering()).
		Limit(p.PerPage).
		Offset((p.Page - 1) * p.PerPage).
		Find(&items).Error; err != nil {
		return nil, Page{}, err
	}
	return items, NewPage(total, p.Page, p.PerPage, len(items)), nil
}
