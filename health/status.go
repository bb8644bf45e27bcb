// Package health tracks the health of the bridge's components and exposes
// an aggregate over HTTP.
package health

import (
	"regexp"
	"time"
)

// URL and credential patterns scrubbed from health messages before they
// leave the process
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|mongodb(?:\+srv)?)://[^\s]+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health state of one component.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Children  []Status  `json:"children,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   sanitize(message),
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   sanitize(message),
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   sanitize(message),
		Timestamp: time.Now(),
	}
}

// sanitize scrubs endpoint URLs and credential fragments out of health
// messages; connection errors routinely embed both.
func sanitize(message string) string {
	if message == "" {
		return ""
	}
	message = urlRegex.ReplaceAllString(message, "[URL]")
	message = credentialRegex.ReplaceAllString(message, "[REDACTED]")
	return message
}

// Aggregate combines sub-statuses into one status:
//   - all healthy -> healthy
//   - any unhealthy -> unhealthy
//   - otherwise any degraded -> degraded
func Aggregate(component string, children []Status) Status {
	if len(children) == 0 {
		return NewHealthy(component, "no components registered")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, child := range children {
		if child.IsUnhealthy() {
			hasUnhealthy = true
		} else if child.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "one or more components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "one or more components are degraded")
	default:
		status = NewHealthy(component, "all components are healthy")
	}

	status.Children = make([]Status, len(children))
	copy(status.Children, children)
	return status
}
