package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/cache"
	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/metrics"
	"github.com/psds-microservice/contact-service/internal/model"
	"github.com/psds-microservice/contact-service/internal/query"
)

const statsCacheName = "stats"

// openStatuses are the statuses still awaiting work.
var openStatuses = []model.ContactStatus{model.ContactStatusNew, model.ContactStatusInProgress}

type Stats struct {
	ByStatus    map[string]int64 `json:"by_status"`
	ByPriority  map[string]int64 `json:"by_priority"`
	ByTime      TimeStats        `json:"by_time"`
	Performance Performance      `json:"performance"`
	Recent      RecentStats      `json:"recent"`
}

type TimeStats struct {
	Today     int64 `json:"today"`
	ThisWeek  int64 `json:"this_week"`
	ThisMonth int64 `json:"this_month"`
}

type Performance struct {
	Overdue             int64 `json:"overdue"`
	HighPriorityPending int64 `json:"high_priority_pending"`
	Unassigned          int64 `json:"unassigned"`
	// AvgResponseTime is in minutes, nil when nothing was ever touched.
	AvgResponseTime *float64 `json:"avg_response_time"`
}

type RecentStats struct {
	Last24h     int64 `json:"last_24h"`
	UrgentToday int64 `json:"urgent_today"`
}

// Stats returns the dashboard aggregates, served from cache until the next
// contact write.
func (s *ContactService) Stats(ctx context.Context) (*Stats, error) {
	built := false
	st, err := cache.Remember(ctx, s.cache, statsCacheName, func(ctx context.Context) (*Stats, error) {
		built = true
		return s.computeStats(ctx)
	})
	if err != nil {
		s.log.Error("failed to retrieve statistics", zap.Error(err))
		return nil, err
	}
	metrics.RecordStatsCache(!built)
	return st, nil
}

func (s *ContactService) computeStats(ctx context.Context) (*Stats, error) {
	now := s.clock.Now()
	db := s.db.WithContext(ctx)

	st := &Stats{
		ByStatus:   make(map[string]int64, len(model.Statuses())),
		ByPriority: make(map[string]int64, len(model.Priorities())),
	}
	for _, v := range model.Statuses() {
		st.ByStatus[string(v)] = 0
	}
	for _, v := range model.Priorities() {
		st.ByPriority[string(v)] = 0
	}
	if err := groupCount(db, "status", st.ByStatus); err != nil {
		return nil, errs.Persistence("stats by status", err)
	}
	var total int64
	if err := db.Model(&model.Contact{}).Count(&total).Error; err != nil {
		return nil, errs.Persistence("stats total", err)
	}
	st.ByStatus["total"] = total
	if err := groupCount(db, "priority", st.ByPriority); err != nil {
		return nil, errs.Persistence("stats by priority", err)
	}

	today := startOfDay(now)
	counts := []struct {
		dst   *int64
		scope func(*gorm.DB) *gorm.DB
	}{
		{&st.ByTime.Today, createdSince(today)},
		{&st.ByTime.ThisWeek, createdSince(startOfWeek(now))},
		{&st.ByTime.ThisMonth, createdSince(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()))},
		{&st.Performance.Overdue, query.Overdue(now)},
		{&st.Performance.HighPriorityPending, func(tx *gorm.DB) *gorm.DB {
			return tx.Scopes(query.HighPriority).Where("status IN ?", openStatuses)
		}},
		{&st.Performance.Unassigned, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("handled_by IS NULL").Where("status IN ?", openStatuses)
		}},
		{&st.Recent.Last24h, createdSince(now.Add(-24 * time.Hour))},
		{&st.Recent.UrgentToday, func(tx *gorm.DB) *gorm.DB {
			return tx.Scopes(createdSince(today)).Where("priority = ?", model.PriorityUrgent)
		}},
	}
	for _, c := range counts {
		if err := db.Model(&model.Contact{}).Scopes(c.scope).Count(c.dst).Error; err != nil {
			return nil, errs.Persistence("stats count", err)
		}
	}

	avg, err := avgResponseMinutes(db)
	if err != nil {
		return nil, errs.Persistence("stats response time", err)
	}
	st.Performance.AvgResponseTime = avg
	return st, nil
}

func groupCount(db *gorm.DB, column string, dst map[string]int64) error {
	var rows []struct {
		Bucket string
		N      int64
	}
	err := db.Model(&model.Contact{}).
		Select(column + " AS bucket, COUNT(*) AS n").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, r := range rows {
		dst[r.Bucket] = r.N
	}
	return nil
}

// avgResponseMinutes averages updation_timestamp - request_timestamp over
// contacts that were touched at least once. Done in Go so both dialects agree.
func avgResponseMinutes(db *gorm.DB) (*float64, error) {
	var rows []struct {
		RequestTimestamp  time.Time
		UpdationTimestamp *time.Time
	}
	err := db.Model(&model.Contact{}).
		Select("request_timestamp, updation_timestamp").
		Where("updation_timestamp IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var total float64
	for _, r := range rows {
		total += r.UpdationTimestamp.Sub(r.RequestTimestamp).Minutes()
	}
	avg := math.Round(total/float64(len(rows))*100) / 100
	return &avg, nil
}

func createdSince(t time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_at >= ?", t)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek is the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}
