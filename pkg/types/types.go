package types

import (
	"time"
)

// Repository represents a registered golden repository
type Repository struct {
	Name           string    `json:"name"`             // stable name; the global alias is Name + "-global"
	RepoURL        string    `json:"repo_url"`         // git URL, or local marker for writer-backed repos
	EnableTemporal bool      `json:"enable_temporal"`  // build the commit-history index on refresh
	EnableScip     bool      `json:"enable_scip"`      // build the SCIP code-intelligence index on refresh
	HasSemantic    bool      `json:"has_semantic"`     // reconciled from disk: semantic index present
	HasFTS         bool      `json:"has_fts"`          // reconciled from disk: full-text index present
	LastRefresh    time.Time `json:"last_refresh"`
	CreatedAt      time.Time `json:"created_at"`
	RegisteredBy   string    `json:"registered_by,omitempty"`
}

// GlobalAliasSuffix is appended to a repository name to form its external alias.
const GlobalAliasSuffix = "-global"

// GlobalAlias returns the external alias for a repository name.
func GlobalAlias(name string) string {
	return name + GlobalAliasSuffix
}

// RepoNameFromAlias strips the global suffix from an alias. Names that do not
// carry the suffix are returned unchanged.
func RepoNameFromAlias(alias string) string {
	if len(alias) > len(GlobalAliasSuffix) && alias[len(alias)-len(GlobalAliasSuffix):] == GlobalAliasSuffix {
		return alias[:len(alias)-len(GlobalAliasSuffix)]
	}
	return alias
}

// AliasRecord is the persistent pointer from a global alias to the current
// snapshot path. Serialized as JSON under {root}/aliases/{alias}.json.
type AliasRecord struct {
	TargetPath  string    `json:"target_path"`
	CreatedAt   time.Time `json:"created_at"`
	LastRefresh time.Time `json:"last_refresh"`
	RepoName    string    `json:"repo_name"`
}

// LockInfo is the metadata stored in a write-lock file under
// {root}/.locks/{name}.lock.
type LockInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// Expired reports whether acquired_at + ttl lies before the given time. A
// non-positive TTL expires immediately; a lock that opts out of expiry must
// say so with a real TTL, not a zero one.
func (l *LockInfo) Expired(now time.Time) bool {
	return now.After(l.AcquiredAt.Add(time.Duration(l.TTLSeconds) * time.Second))
}

// WriteModeMarker is the out-of-band marker an interactive writer session
// drops under {root}/.write_mode/{name}.json.
type WriteModeMarker struct {
	EnteredAt time.Time `json:"entered_at"`
	Session   string    `json:"session,omitempty"`
}

// WriteModeOwner is the synthetic lock owner used by interactive write-mode
// sessions; marker eviction releases locks held under this identity.
const WriteModeOwner = "mcp_write_mode"

// ReconciliationOwner is the synthetic lock owner used by the startup
// reconciliation pass while it restores a missing master.
const ReconciliationOwner = "reconciliation"

// JobStatus represents the state of a refresh job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents one triggered refresh, visible on the operator dashboard
type Job struct {
	ID         string    `json:"id"`
	Repo       string    `json:"repo"`
	Username   string    `json:"username"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message,omitempty"` // success-with-skip detail (lock held, no changes)
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
