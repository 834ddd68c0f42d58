package domain

import (
	"encoding/json"
	"time"
)

// ResourceKind identifies one of the sub-resources fetched per tracked match.
type ResourceKind string

const (
	ResourceSummary    ResourceKind = "summary"
	ResourceEvents     ResourceKind = "events"
	ResourceStatistics ResourceKind = "statistics"
	ResourceLineups    ResourceKind = "lineups"
)

// SubResources is the fixed set fetched for every tracked match each poll cycle.
var SubResources = []ResourceKind{ResourceSummary, ResourceEvents, ResourceStatistics, ResourceLineups}

// MatchStatus as reported by the upstream feed.
type MatchStatus string

const (
	StatusScheduled MatchStatus = "scheduled"
	StatusLive      MatchStatus = "live"
	StatusHalftime  MatchStatus = "halftime"
	StatusFinished  MatchStatus = "finished"
	StatusCancelled MatchStatus = "cancelled"
	StatusPostponed MatchStatus = "postponed"
)

// Terminal reports whether a match in this status will never go live again.
func (s MatchStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusPostponed:
		return true
	}
	return false
}

// InPlay reports whether the match is currently being played.
func (s MatchStatus) InPlay() bool {
	return s == StatusLive || s == StatusHalftime
}

// Match is the slice of the upstream match document that discovery needs.
// Everything else in the payload is carried opaquely to the sink.
type Match struct {
	ID         string      `json:"id"`
	Status     MatchStatus `json:"status"`
	StartTime  time.Time   `json:"start_time"`
	Importance float64     `json:"importance"`
}

// FeedEnvelope wraps list responses from the discovery endpoints.
type FeedEnvelope struct {
	Data []Match `json:"data"`
}

// TrackedMatch is one entry in the tracker's active set.
type TrackedMatch struct {
	ID           string      `json:"id"`
	Status       MatchStatus `json:"status"`
	DiscoveredAt time.Time   `json:"discovered_at"`
	Live         bool        `json:"live"`
	Importance   float64     `json:"importance"`
}

// RequestOutcome is the result of one logical request. Immutable once built.
type RequestOutcome struct {
	Success     bool
	Payload     json.RawMessage
	Err         string
	StatusCode  int // 0 when no HTTP response was received
	Duration    time.Duration
	Endpoint    string
	CompletedAt time.Time
	FromCache   bool
	RateLimited bool
	Duplicate   bool
}

// JobStatus tracks a ScrapeJob through its lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
)

// ScrapeJob records one polling attempt against one match.
type ScrapeJob struct {
	ID          string
	MatchID     string
	Kind        string
	Status      JobStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Succeeded   int
	Failed      int
	ErrorDetail string
}
