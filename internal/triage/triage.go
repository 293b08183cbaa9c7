// Package triage holds the SLA policy table and the service-to-priority
// classifier.
package triage

import (
	"time"

	"github.com/psds-microservice/contact-service/internal/model"
)

const defaultSLAHours = 24

var slaHours = map[model.Priority]int{
	model.PriorityUrgent: 1,
	model.PriorityHigh:   4,
	model.PriorityMedium: 24,
	model.PriorityLow:    72,
}

// SLAHours returns the response allowance for p. Unknown priorities get the
// medium allowance.
func SLAHours(p model.Priority) int {
	if h, ok := slaHours[p]; ok {
		return h
	}
	return defaultSLAHours
}

func SLAWindow(p model.Priority) time.Duration {
	return time.Duration(SLAHours(p)) * time.Hour
}

// Deadline is requestedAt plus the allowance for p.
func Deadline(requestedAt time.Time, p model.Priority) time.Time {
	return requestedAt.Add(SLAWindow(p))
}

var serviceBuckets = map[string]model.Priority{
	"technical_issue": model.PriorityUrgent,
	"billing_dispute": model.PriorityUrgent,
	"account_locked":  model.PriorityUrgent,
	"support":         model.PriorityHigh,
	"complaint":       model.PriorityHigh,
	"general_inquiry": model.PriorityMedium,
	"partnership":     model.PriorityMedium,
}

// Classify maps a service category to a priority. Matching is exact and
// case-sensitive; anything unlisted is low.
func Classify(service string) model.Priority {
	if p, ok := serviceBuckets[service]; ok {
		return p
	}
	return model.PriorityLow
}
