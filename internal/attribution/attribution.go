// Package attribution reduces worker run outcomes and backup events into
// logical snapshot executions grouped by run-group.
package attribution

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/snapshotref"
)

// Execution is one logical snapshot execution: the merged view of all runs
// and events that produced (or reported) the same snapshot.
type Execution struct {
	RepresentativeSnapshotID string
	SnapshotTime             *time.Time
	SourceSnapshotIDs        []string
	RunGroupIDs              []uuid.UUID
	WorkerIDs                []uuid.UUID
	RunCount                 int
	SuccessCount             int
	FailureCount             int
	LatestStartedAt          *time.Time
}

type bucket struct {
	snapshotID   string
	snapshotTime *time.Time
	runGroupIDs  map[uuid.UUID]struct{}
	workerIDs    map[uuid.UUID]struct{}
	total        int
	success      int
	failure      int
	latestStart  *time.Time
}

func newBucket(snapshotID string) *bucket {
	return &bucket{
		snapshotID:  snapshotID,
		runGroupIDs: map[uuid.UUID]struct{}{},
		workerIDs:   map[uuid.UUID]struct{}{},
	}
}

// Reduce computes the attribution view over the most recent runs and events
// for a (user, repository) scope. Callers pass at most the most recent 1000
// of each, per the read-side budget.
func Reduce(runs []model.BackupRun, events []model.BackupEvent) []Execution {
	buckets := make(map[string]*bucket)

	// Step 1: run pass.
	for _, r := range runs {
		if r.WorkerID == nil {
			continue
		}
		snapID := extractRunSnapshotID(r)
		if snapID == "" {
			continue
		}
		key := strings.ToLower(snapID)

		b, ok := buckets[key]
		if !ok {
			b = newBucket(snapID)
			buckets[key] = b
		}

		if r.RunGroupID != nil {
			b.runGroupIDs[*r.RunGroupID] = struct{}{}
		}
		b.workerIDs[*r.WorkerID] = struct{}{}
		b.total++
		switch r.Status {
		case model.RunSuccess:
			b.success++
		case model.RunFailed:
			b.failure++
		}
		if r.SnapshotTime != nil && (b.snapshotTime == nil || r.SnapshotTime.After(*b.snapshotTime)) {
			b.snapshotTime = r.SnapshotTime
		}
		if r.StartedAt != nil && (b.latestStart == nil || r.StartedAt.After(*b.latestStart)) {
			b.latestStart = r.StartedAt
		}
	}

	// Step 2: event pass — skip if the bucket already exists from runs.
	for _, e := range events {
		if e.WorkerID == nil || e.Details == nil {
			continue
		}
		snapIDRaw, ok := e.Details["snapshotId"]
		if !ok {
			continue
		}
		snapID, ok := snapIDRaw.(string)
		if !ok || snapID == "" {
			continue
		}
		key := strings.ToLower(snapID)
		if _, exists := buckets[key]; exists {
			continue
		}

		b := newBucket(snapID)
		b.workerIDs[*e.WorkerID] = struct{}{}
		b.total = 1
		if e.Type == model.EventManualBackupCompleted || e.Status == model.EventResolved {
			b.success = 1
		} else {
			b.failure = 1
		}
		if t, ok := e.Details["snapshotTime"]; ok {
			if s, ok := t.(string); ok {
				if parsed, err := time.Parse(time.RFC3339, s); err == nil {
					b.snapshotTime = &parsed
				}
			}
		}
		buckets[key] = b
	}

	return mergeByRunGroup(buckets)
}

func extractRunSnapshotID(r model.BackupRun) string {
	if r.Output != nil {
		if ref := snapshotref.Extract(r.Output); ref != nil {
			return ref.ID
		}
	}
	if r.SnapshotID != nil {
		return *r.SnapshotID
	}
	return ""
}

// mergeByRunGroup merges buckets keyed by run-group (or by normalized
// snapshot id when no run-group is known) into final executions.
func mergeByRunGroup(buckets map[string]*bucket) []Execution {
	type merged struct {
		key          string
		buckets      []*bucket
		runGroupIDs  map[uuid.UUID]struct{}
		workerIDs    map[uuid.UUID]struct{}
		sourceIDs    []string
		hasRunGroups bool
	}

	groups := make(map[string]*merged)

	for _, b := range buckets {
		var key string
		if len(b.runGroupIDs) > 0 {
			ids := make([]string, 0, len(b.runGroupIDs))
			for id := range b.runGroupIDs {
				ids = append(ids, id.String())
			}
			sort.Strings(ids)
			key = "rungroups:" + strings.Join(ids, ",")
		} else {
			key = "snapshot:" + strings.ToLower(b.snapshotID)
		}

		g, ok := groups[key]
		if !ok {
			g = &merged{
				key:         key,
				runGroupIDs: map[uuid.UUID]struct{}{},
				workerIDs:   map[uuid.UUID]struct{}{},
			}
			groups[key] = g
		}
		g.buckets = append(g.buckets, b)
		g.sourceIDs = append(g.sourceIDs, b.snapshotID)
		for id := range b.runGroupIDs {
			g.runGroupIDs[id] = struct{}{}
			g.hasRunGroups = true
		}
		for id := range b.workerIDs {
			g.workerIDs[id] = struct{}{}
		}
	}

	out := make([]Execution, 0, len(groups))
	for _, g := range groups {
		// Representative: latest by time, tie-break higher normalized id.
		rep := g.buckets[0]
		for _, b := range g.buckets[1:] {
			if laterOrTieHigher(b, rep) {
				rep = b
			}
		}

		runCount := 0
		successCount, failureCount := 0, 0
		if g.hasRunGroups {
			runCount = len(g.runGroupIDs)
			// Success/failure counts clamped to run-count when collapsed.
			for _, b := range g.buckets {
				successCount += b.success
				failureCount += b.failure
			}
			if successCount > runCount {
				successCount = runCount
			}
			if remaining := runCount - successCount; failureCount > remaining {
				failureCount = remaining
			}
			if failureCount < 0 {
				failureCount = 0
			}
		} else {
			for _, b := range g.buckets {
				runCount += b.total
				successCount += b.success
				failureCount += b.failure
			}
		}

		runGroupIDs := make([]uuid.UUID, 0, len(g.runGroupIDs))
		for id := range g.runGroupIDs {
			runGroupIDs = append(runGroupIDs, id)
		}
		workerIDs := make([]uuid.UUID, 0, len(g.workerIDs))
		for id := range g.workerIDs {
			workerIDs = append(workerIDs, id)
		}

		out = append(out, Execution{
			RepresentativeSnapshotID: rep.snapshotID,
			SnapshotTime:             rep.snapshotTime,
			SourceSnapshotIDs:        g.sourceIDs,
			RunGroupIDs:              runGroupIDs,
			WorkerIDs:                workerIDs,
			RunCount:                 runCount,
			SuccessCount:             successCount,
			FailureCount:             failureCount,
			LatestStartedAt:          rep.latestStart,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].SnapshotTime, out[j].SnapshotTime
		switch {
		case ti == nil && tj == nil:
			return false
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})

	return out
}

func laterOrTieHigher(a, b *bucket) bool {
	switch {
	case a.snapshotTime == nil && b.snapshotTime == nil:
		return strings.ToLower(a.snapshotID) > strings.ToLower(b.snapshotID)
	case a.snapshotTime == nil:
		return false
	case b.snapshotTime == nil:
		return true
	case a.snapshotTime.Equal(*b.snapshotTime):
		return strings.ToLower(a.snapshotID) > strings.ToLower(b.snapshotID)
	default:
		return a.snapshotTime.After(*b.snapshotTime)
	}
}
