// Package metrics counts profile flow outcomes and renders them as a report.
// Counters are safe for concurrent use.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects counters for the orchestrator's flows.
type Metrics struct {
	mu sync.RWMutex

	flowsStarted   int64 // flows entered, any kind
	flowsFailed    int64 // flows that ended in Failed
	created        int64 // profiles created
	fetched        int64 // profiles loaded, with or without avatar
	fetchedMissing int64 // fetches that found no record
	updated        int64 // updates written to the backend
	noopUpdates    int64 // updates short-circuited without network calls
	logins         int64 // provider logins, new or existing
	avatarUploads  int64 // avatar objects written
	avatarFailures int64 // avatar downloads that failed and were swallowed
	compensations  int64 // saga compensations run after a failed step

	flowTime  time.Duration // time spent inside flows
	startTime time.Time
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// FlowStarted increments the started flows counter
func (m *Metrics) FlowStarted() {
	atomic.AddInt64(&m.flowsStarted, 1)
}

// FlowFailed increments the failed flows counter
func (m *Metrics) FlowFailed() {
	atomic.AddInt64(&m.flowsFailed, 1)
}

// ProfileCreated increments the created profiles counter
func (m *Metrics) ProfileCreated() {
	atomic.AddInt64(&m.created, 1)
}

// ProfileFetched increments the fetched profiles counter
func (m *Metrics) ProfileFetched() {
	atomic.AddInt64(&m.fetched, 1)
}

// ProfileMissing increments the counter of fetches that found no record
func (m *Metrics) ProfileMissing() {
	atomic.AddInt64(&m.fetchedMissing, 1)
}

// ProfileUpdated increments the written updates counter
func (m *Metrics) ProfileUpdated() {
	atomic.AddInt64(&m.updated, 1)
}

// NoopUpdate increments the short-circuited updates counter
func (m *Metrics) NoopUpdate() {
	atomic.AddInt64(&m.noopUpdates, 1)
}

// ProviderLogin increments the provider logins counter
func (m *Metrics) ProviderLogin() {
	atomic.AddInt64(&m.logins, 1)
}

// AvatarUploaded increments the avatar uploads counter
func (m *Metrics) AvatarUploaded() {
	atomic.AddInt64(&m.avatarUploads, 1)
}

// AvatarDownloadFailed increments the swallowed avatar download failures counter
func (m *Metrics) AvatarDownloadFailed() {
	atomic.AddInt64(&m.avatarFailures, 1)
}

// Compensated increments the compensations counter
func (m *Metrics) Compensated() {
	atomic.AddInt64(&m.compensations, 1)
}

// RecordFlowTime adds d to the time spent in flows
func (m *Metrics) RecordFlowTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowTime += d
}

// Report is a snapshot of the counters.
type Report struct {
	StartTime             time.Time     `json:"startTime"`
	EndTime               time.Time     `json:"endTime"`
	FlowsStarted          int64         `json:"flowsStarted"`
	FlowsFailed           int64         `json:"flowsFailed"`
	Created               int64         `json:"created"`
	Fetched               int64         `json:"fetched"`
	FetchedMissing        int64         `json:"fetchedMissing"`
	Updated               int64         `json:"updated"`
	NoopUpdates           int64         `json:"noopUpdates"`
	ProviderLogins        int64         `json:"providerLogins"`
	AvatarUploads         int64         `json:"avatarUploads"`
	AvatarDownloadFailure int64         `json:"avatarDownloadFailures"`
	Compensations         int64         `json:"compensations"`
	FlowTime              time.Duration `json:"flowTime"`
}

// GenerateReport takes a snapshot of all counters.
func (m *Metrics) GenerateReport() Report {
	m.mu.RLock()
	flowTime := m.flowTime
	m.mu.RUnlock()

	return Report{
		StartTime:             m.startTime,
		EndTime:               time.Now(),
		FlowsStarted:          atomic.LoadInt64(&m.flowsStarted),
		FlowsFailed:           atomic.LoadInt64(&m.flowsFailed),
		Created:               atomic.LoadInt64(&m.created),
		Fetched:               atomic.LoadInt64(&m.fetched),
		FetchedMissing:        atomic.LoadInt64(&m.fetchedMissing),
		Updated:               atomic.LoadInt64(&m.updated),
		NoopUpdates:           atomic.LoadInt64(&m.noopUpdates),
		ProviderLogins:        atomic.LoadInt64(&m.logins),
		AvatarUploads:         atomic.LoadInt64(&m.avatarUploads),
		AvatarDownloadFailure: atomic.LoadInt64(&m.avatarFailures),
		Compensations:         atomic.LoadInt64(&m.compensations),
		FlowTime:              flowTime,
	}
}

// MarshalJSON renders durations as strings.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		FlowTime string `json:"flowTime"`
	}{
		Alias:    Alias(r),
		FlowTime: r.FlowTime.String(),
	})
}

// String returns a human-readable summary for console output.
func (r Report) String() string {
	return fmt.Sprintf(
		"Flows: %d started, %d failed in %s\n"+
			"Profiles: %d created, %d fetched (%d missing), %d updated, %d unchanged\n"+
			"Provider logins: %d\n"+
			"Avatars: %d uploaded, %d download failures\n"+
			"Compensations: %d",
		r.FlowsStarted, r.FlowsFailed, r.FlowTime,
		r.Created, r.Fetched, r.FetchedMissing, r.Updated, r.NoopUpdates,
		r.ProviderLogins,
		r.AvatarUploads, r.AvatarDownloadFailure,
		r.Compensations,
	)
}
