// Package model defines the persisted entities of the backup orchestration
// control plane.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/paths"
)

// WorkerStatus is the liveness classification of a worker agent.
type WorkerStatus string

const (
	WorkerOnline   WorkerStatus = "online"
	WorkerDegraded WorkerStatus = "degraded"
	WorkerOffline  WorkerStatus = "offline"
)

// OnlineWindow is the maximum age of LastSeenAt for a worker to count as online.
const OnlineWindow = 45 * time.Second

// Worker is a remote agent executing snapshot/restore operations against
// user-owned repositories.
type Worker struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	DisplayName   string
	Region        string
	Status        WorkerStatus
	LastSeenAt    *time.Time
	UptimeMS      int64
	RequestsTotal int64
	ErrorTotal    int64
	Endpoint      string
	SyncToken     string // raw bearer credential, presented back to the worker on outbound push/forget/list calls
	SyncTokenHash string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOnline reports whether the worker has been seen recently enough to be
// considered online, relative to now.
func (w *Worker) IsOnline(now time.Time) bool {
	if w.LastSeenAt == nil {
		return false
	}
	return now.Sub(*w.LastSeenAt) <= OnlineWindow
}

// Repository is a user-owned backup destination.
type Repository struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Name            string
	Backend         string
	Path            string
	Password        string
	Options         map[string]string
	InitializedAt   *time.Time
	PrimaryWorkerID *uuid.UUID
	BackupWorkerIDs []uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunStatus is the lifecycle of a BackupRun.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// PolicyStatus mirrors RunStatus for a BackupPolicy's last-observed state,
// plus the absence state before any fire has happened.
type PolicyStatus string

const (
	PolicySuccess PolicyStatus = "success"
	PolicyFailed  PolicyStatus = "failed"
	PolicyRunning PolicyStatus = "running"
)

// RetentionRules configures a prune step's keep policy. Nil fields are omitted.
type RetentionRules struct {
	KeepLast    *int
	KeepDaily   *int
	KeepWeekly  *int
	KeepMonthly *int
	KeepYearly  *int
	KeepWithin  *string
}

// NonNil reports whether any retention rule has been set.
func (r *RetentionRules) NonNil() bool {
	if r == nil {
		return false
	}
	return r.KeepLast != nil || r.KeepDaily != nil || r.KeepWeekly != nil ||
		r.KeepMonthly != nil || r.KeepYearly != nil || r.KeepWithin != nil
}

// BackupPolicy ("plan") binds a repository, a worker set, paths, a cron
// schedule, and optional retention rules.
type BackupPolicy struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	RepositoryID   uuid.UUID
	WorkerID       *uuid.UUID // legacy single worker, preserved for back-compat
	WorkerIDs      []uuid.UUID
	DisplayName    string
	Cron           string
	Paths          paths.Config
	Tags           []string
	DryRun         bool
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastStatus     *PolicyStatus
	LastError      *string
	LastDurationMS *int64
	Prune          bool
	Retention      *RetentionRules
	LeaseUntil     *time.Time
	LeaseOwner     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BackupRun is the per-worker work unit produced by a fire, or a retention run.
type BackupRun struct {
	ID           uuid.UUID
	PolicyID     uuid.UUID
	UserID       uuid.UUID
	RepositoryID uuid.UUID
	WorkerID     *uuid.UUID
	RunGroupID   *uuid.UUID
	Type         string // "backup" | "prune"
	Status       RunStatus
	Error        *string
	DurationMS   *int64
	SnapshotID   *string
	SnapshotTime *time.Time
	Output       map[string]any
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// EventType enumerates BackupEvent.Type values.
type EventType string

const (
	EventBackupPending           EventType = "backup_pending"
	EventBackupRunning           EventType = "backup_running"
	EventBackupCompleted         EventType = "backup_completed"
	EventBackupFailed            EventType = "backup_failed"
	EventWorkerUnreachable       EventType = "worker_unreachable"
	EventBackupSizeAnomaly       EventType = "backup_size_anomaly"
	EventPruneCompleted          EventType = "prune_completed"
	EventPruneFailed             EventType = "prune_failed"
	EventManualBackupCompleted   EventType = "manual_backup_completed"
	EventSnapshotForgotten       EventType = "snapshot_forgotten"
	EventWorkerHealth            EventType = "worker_health"
)

// EventStatus is the open/resolved lifecycle of a BackupEvent.
type EventStatus string

const (
	EventOpen     EventStatus = "open"
	EventResolved EventStatus = "resolved"
)

// EventSeverity classifies a BackupEvent's urgency.
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// BackupEvent is an append-only notification record.
type BackupEvent struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	RepositoryID uuid.UUID
	PolicyID     *uuid.UUID
	RunID        *uuid.UUID
	WorkerID     *uuid.UUID
	Type         EventType
	Status       EventStatus
	Severity     EventSeverity
	Message      string
	Details      map[string]any
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// BackupRunMetric records byte/file counters for one successful run.
type BackupRunMetric struct {
	ID              uuid.UUID
	RunID           uuid.UUID
	UserID          uuid.UUID
	PolicyID        *uuid.UUID
	RepositoryID    uuid.UUID
	SnapshotID      *string
	BytesAdded      int64
	BytesProcessed  int64
	FilesNew        *int64
	FilesChanged    *int64
	FilesUnmodified *int64
	CreatedAt       time.Time
}

// StorageUsageEvent is an append-only sample of bytes-added per run.
type StorageUsageEvent struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	RunID        uuid.UUID
	RepositoryID uuid.UUID
	BytesAdded   int64
	SampledAt    time.Time
}

// AnomalyReason classifies a BackupSizeAnomaly's direction.
type AnomalyReason string

const (
	ReasonLargerThanExpected  AnomalyReason = "larger_than_expected"
	ReasonSmallerThanExpected AnomalyReason = "smaller_than_expected"
)

// BackupSizeAnomaly flags a run whose bytes-added deviates from the
// MAD-derived expectation for its series.
type BackupSizeAnomaly struct {
	ID             uuid.UUID
	MetricID       uuid.UUID
	UserID         uuid.UUID
	PolicyID       *uuid.UUID
	RepositoryID   uuid.UUID
	ExpectedBytes  float64
	ActualBytes    int64
	DeviationScore float64
	Status         EventStatus
	Severity       EventSeverity
	Reason         AnomalyReason
	DetectedAt     time.Time
	ResolvedAt     *time.Time
}
