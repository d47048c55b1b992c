// Package health tracks component health for the /health endpoint
package health

import (
	"regexp"
	"time"

	"github.com/c360/v2xstreams/component"
)

// Status strings
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?|tcp|mqtt)://[^\s]+`)
	hostPortRegex   = regexp.MustCompile(`\b[\w.-]+:\d{2,5}\b`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesPerSecond float64       `json:"messages_per_second,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// sanitizeErrorMessage strips source addresses and credentials before an
// error string leaves the process through /health.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	return hostPortRegex.ReplaceAllString(sanitized, "[ADDR]")
}

// FromComponent converts a component's health and flow into a Status
func FromComponent(name string, c component.Discoverable) Status {
	ch := c.Health()
	flow := c.DataFlow()

	status := FromComponentHealth(name, ch)
	status.Metrics.MessagesPerSecond = flow.MessagesPerSecond
	if !flow.LastActivity.IsZero() {
		status.Metrics.LastActivity = flow.LastActivity
	}
	return status
}

// FromComponentHealth converts a component.HealthStatus to a health.Status
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	status := StateUnhealthy
	if ch.Healthy {
		status = StateHealthy
	}

	message := "Component healthy"
	if ch.LastError != "" {
		message = sanitizeErrorMessage(ch.LastError)
		// A running component that has seen errors is degraded, not down
		if ch.Healthy {
			status = StateDegraded
		}
	} else if !ch.Healthy {
		message = "Component not running"
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:       ch.Uptime,
			ErrorCount:   ch.ErrorCount,
			LastActivity: ch.LastCheck,
		},
	}
}
