package domain

import "time"

// ConflictRecord captures one field the two sides disagree on. Produced
// by conflict detection, consumed by resolution in the same run; never
// persisted.
type ConflictRecord struct {
	Field         string
	ClientValue   string
	ServerValue   string
	ClientUpdated *time.Time
	ServerUpdated *time.Time
	// ForceUpdate marks a password difference that the active policy
	// converts into a forced client-wins push instead of a conflict.
	ForceUpdate bool
	// Redacted marks values that must not appear in user-facing output.
	Redacted bool
}

// Outcome is the terminal state of one user within a sync run. Exactly
// one outcome is recorded per user per run.
type Outcome string

const (
	OutcomePending         Outcome = "pending"
	OutcomeProvisioned     Outcome = "provisioned"
	OutcomeConflictQueued  Outcome = "conflict-queued"
	OutcomeForceUpdated    Outcome = "force-updated"
	OutcomeSyncedClean     Outcome = "synced-clean"
	OutcomeSkippedError    Outcome = "skipped-error"
	OutcomeSkippedNoAccess Outcome = "skipped-no-access"
)

// QueuedConflict holds one user's unresolved conflicts until the
// post-batch resolution pass.
type QueuedConflict struct {
	User      *LocalUser
	Remote    RemoteUser
	Conflicts []ConflictRecord
}

// SyncReport is the value a run returns: per-outcome tallies plus the
// queue of unresolved conflicts. It is accumulated functionally by the
// orchestrator, not stored on shared state.
type SyncReport struct {
	Total     int
	Created   int
	Synced    int
	Skipped   int
	NoAccess  int
	Conflicts []QueuedConflict
	// Errors holds per-user failure messages; every skipped user has one.
	Errors []string
}

// Record tallies one user's outcome.
func (r *SyncReport) Record(outcome Outcome) {
	r.Total++
	switch outcome {
	case OutcomeProvisioned:
		r.Created++
	case OutcomeSyncedClean, OutcomeForceUpdated:
		r.Synced++
	case OutcomeSkippedError:
		r.Skipped++
	case OutcomeSkippedNoAccess:
		r.Skipped++
		r.NoAccess++
	case OutcomeConflictQueued, OutcomePending:
		// Counted toward Total only; synced/skipped are settled when
		// the queued conflict is resolved or abandoned.
	}
}

// Queue appends an unresolved conflict set for one user.
func (r *SyncReport) Queue(qc QueuedConflict) {
	r.Conflicts = append(r.Conflicts, qc)
}

// Role is one entry of the remote role catalogue.
type Role struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// RoleSkip maps a local role to "no role assigned" in a RoleMapping.
const RoleSkip = "skip"

// RoleMapping maps local role names to remote role names, or RoleSkip.
// Built once per run and consulted for every user in it.
type RoleMapping map[string]string

// Resolve returns the remote role for a local one, "" when the role is
// unmapped or mapped to skip.
func (m RoleMapping) Resolve(local string) string {
	mapped, ok := m[local]
	if !ok || mapped == RoleSkip {
		return ""
	}
	return mapped
}
