// Package retention issues the forget+prune step after a successful policy
// fire.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/workerclient"
)

// ForgetRequest is the payload POSTed to /rustic/forget.
type ForgetRequest struct {
	Backend     string            `json:"backend"`
	Options     map[string]string `json:"options"`
	Repository  string            `json:"repository"`
	Password    string            `json:"password,omitempty"`
	Prune       bool              `json:"prune"`
	KeepLast    *int              `json:"keepLast,omitempty"`
	KeepDaily   *int              `json:"keepDaily,omitempty"`
	KeepWeekly  *int              `json:"keepWeekly,omitempty"`
	KeepMonthly *int              `json:"keepMonthly,omitempty"`
	KeepYearly  *int              `json:"keepYearly,omitempty"`
	KeepWithin  *string           `json:"keepWithin,omitempty"`
}

// Outcome is the result of one retention invocation, always reported back
// to the caller without propagating failure to the parent fire.
type Outcome struct {
	Run   model.BackupRun
	Event model.BackupEvent
}

// Execute runs retention for policy against repository through worker,
// using the already-normalized (backend, path, options) tuple. It never
// returns an error to the caller beyond what is needed to persist the
// failed run and event; any worker-call exception is captured as the run's
// error message.
func Execute(
	ctx context.Context,
	client *workerclient.Client,
	worker model.Worker,
	policy model.BackupPolicy,
	repo model.Repository,
	backend, path string,
	options map[string]string,
) Outcome {
	now := time.Now().UTC()

	req := ForgetRequest{
		Backend:    backend,
		Options:    options,
		Repository: path,
		Password:   repo.Password,
		Prune:      true,
	}
	if policy.Retention != nil {
		req.KeepLast = policy.Retention.KeepLast
		req.KeepDaily = policy.Retention.KeepDaily
		req.KeepWeekly = policy.Retention.KeepWeekly
		req.KeepMonthly = policy.Retention.KeepMonthly
		req.KeepYearly = policy.Retention.KeepYearly
		req.KeepWithin = policy.Retention.KeepWithin
	}

	run := model.BackupRun{
		ID:           uuid.New(),
		PolicyID:     policy.ID,
		UserID:       policy.UserID,
		RepositoryID: repo.ID,
		WorkerID:     &worker.ID,
		RunGroupID:   nil,
		Type:         "prune",
		StartedAt:    &now,
	}

	resp, err := client.Call(ctx, worker.Endpoint, "/rustic/forget", worker.SyncToken, req)
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	durationMS := finished.Sub(now).Milliseconds()
	run.DurationMS = &durationMS

	event := model.BackupEvent{
		ID:           uuid.New(),
		UserID:       policy.UserID,
		RepositoryID: repo.ID,
		PolicyID:     &policy.ID,
		RunID:        &run.ID,
		WorkerID:     &worker.ID,
		Type:         model.EventPruneCompleted,
		Status:       model.EventOpen,
		CreatedAt:    finished,
	}

	switch {
	case err != nil:
		msg := err.Error()
		run.Status = model.RunFailed
		run.Error = &msg
		event.Type = model.EventPruneFailed
		event.Severity = model.SeverityError
		event.Message = fmt.Sprintf("retention failed for policy %s: %s", policy.ID, msg)
	case !resp.Success:
		msg := resp.Error
		if msg == "" {
			msg = "retention call did not succeed"
		}
		run.Status = model.RunFailed
		run.Error = &msg
		event.Type = model.EventPruneFailed
		event.Severity = model.SeverityError
		event.Message = msg
	default:
		run.Status = model.RunSuccess
		event.Severity = model.SeverityInfo
		event.Message = fmt.Sprintf("retention completed for policy %s", policy.ID)
	}

	return Outcome{Run: run, Event: event}
}

// Eligible reports whether retention should run after a fire: the policy
// has non-null retention rules and at least one sibling backup run
// succeeded.
func Eligible(policy model.BackupPolicy, anySuccess bool) bool {
	return policy.Retention.NonNil() && anySuccess
}
