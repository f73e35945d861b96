package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forgeline.dev/bridge/common"
	"forgeline.dev/bridge/common/id"
	"forgeline.dev/bridge/common/logger"
	"forgeline.dev/bridge/internal/model"
	"forgeline.dev/bridge/internal/platform"
	"forgeline.dev/bridge/internal/ratelimit"
	"forgeline.dev/bridge/internal/store"
)

// Status classifies a non-error gate outcome.
type Status string

const (
	StatusDispatched  Status = "started"
	StatusSkipped     Status = "skipped"
	StatusDisabled    Status = "disabled"
	StatusRateLimited Status = "rate-limited"
)

// Hard failures on the critical path. Everything else in the gate is
// best-effort and never surfaces as an error.
var (
	ErrNoBranchRef    = errors.New("no branch ref for merge request")
	ErrBranchCreation = errors.New("branch creation failed")
	ErrDispatchFailed = errors.New("pipeline dispatch failed")
)

type Outcome struct {
	Status     Status
	PipelineID int64
	Branch     string
}

type DispatcherConfig struct {
	BranchPrefix string
	Model        string
	CancelStale  bool
}

const (
	reactionEmoji = "robot"
	branchSlugMax = 50
)

// Dispatcher is the gate between an authenticated note event and
// exactly one downstream pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.NoteEvent) (Outcome, error)
}

type dispatcher struct {
	matcher     *TriggerMatcher
	killSwitch  KillSwitch
	limiter     ratelimit.Limiter
	platform    platform.Client
	aggregator  *DiscussionAggregator
	dispatchLog store.DispatchLogStore
	cfg         DispatcherConfig
	now         func() time.Time
}

func NewDispatcher(
	matcher *TriggerMatcher,
	killSwitch KillSwitch,
	limiter ratelimit.Limiter,
	platformClient platform.Client,
	aggregator *DiscussionAggregator,
	dispatchLog store.DispatchLogStore,
	cfg DispatcherConfig,
) Dispatcher {
	if dispatchLog == nil {
		dispatchLog = store.NoopDispatchLogStore{}
	}
	return &dispatcher{
		matcher:     matcher,
		killSwitch:  killSwitch,
		limiter:     limiter,
		platform:    platformClient,
		aggregator:  aggregator,
		dispatchLog: dispatchLog,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Dispatch runs the gate: trigger check, kill switch, rate limit,
// branch resolution, payload build, pipeline trigger. Non-dispatching
// outcomes come back as a Status; hard failures as wrapped sentinel
// errors. Nothing is rolled back after a branch is created or a
// pipeline started.
func (d *dispatcher) Dispatch(ctx context.Context, event model.NoteEvent) (Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProjectID:    logger.Ptr(event.Project.ID),
		ResourceType: logger.Ptr(string(event.ResourceType())),
		Author:       logger.Ptr(event.Author.Username),
		Component:    "bridge.dispatch",
	})
	if rid := event.ResourceID(); rid != 0 {
		ctx = logger.WithLogFields(ctx, logger.LogFields{ResourceID: logger.Ptr(rid)})
	}

	instruction, triggered := d.matcher.Match(event.Note.Body)
	if !triggered {
		slog.DebugContext(ctx, "no trigger phrase in note", "phrase", d.matcher.Phrase())
		return Outcome{Status: StatusSkipped}, nil
	}

	if d.killSwitch.Disabled(ctx) {
		slog.WarnContext(ctx, "automation disabled, skipping trigger")
		return Outcome{Status: StatusDisabled}, nil
	}

	key := model.NewDispatchKey(event)
	if !d.limiter.Admit(ctx, key.String()) {
		slog.WarnContext(ctx, "dispatch denied by rate limiter", "key", key.String())
		return Outcome{Status: StatusRateLimited}, nil
	}

	slog.InfoContext(ctx, "trigger accepted",
		"phrase", d.matcher.Phrase(),
		"project", event.Project.Path,
		"instruction", logger.Truncate(instruction, 200),
	)

	branch, err := d.resolveBranch(ctx, event)
	if err != nil {
		d.postFailureComment(ctx, event, err)
		return Outcome{}, err
	}

	prompt := d.aggregator.BuildPrompt(ctx, event, instruction)

	payload := model.DispatchPayload{
		Author:       event.Author.Username,
		ResourceType: event.ResourceType(),
		ResourceID:   event.ResourceID(),
		ProjectPath:  event.Project.Path,
		Branch:       branch,
		DiscussionID: event.DiscussionID,
		Prompt:       prompt,
		Model:        d.cfg.Model,
		Phrase:       d.matcher.Phrase(),
		Event:        event,
	}

	pipelineID, err := d.platform.TriggerPipeline(ctx, event.Project.ID, branch, payload.Variables())
	if err != nil {
		slog.ErrorContext(ctx, "failed to trigger pipeline", "error", err, "branch", branch)
		wrapped := fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		d.postFailureComment(ctx, event, wrapped)
		return Outcome{}, wrapped
	}

	slog.InfoContext(ctx, "pipeline triggered", "pipeline_id", pipelineID, "branch", branch)

	d.afterDispatch(ctx, event, branch, pipelineID)

	return Outcome{Status: StatusDispatched, PipelineID: pipelineID, Branch: branch}, nil
}

// resolveBranch determines the ref the agent will work on. Merge
// request notes reuse the MR's source branch; issue-only notes get a
// fresh branch cut from the project default. The agent is never
// pointed at a branch it wasn't explicitly given.
func (d *dispatcher) resolveBranch(ctx context.Context, event model.NoteEvent) (string, error) {
	if event.MergeRequest != nil {
		if event.MergeRequest.SourceBranch == "" {
			slog.ErrorContext(ctx, "merge request has no source branch")
			return "", ErrNoBranchRef
		}
		return event.MergeRequest.SourceBranch, nil
	}

	if event.Issue == nil {
		slog.ErrorContext(ctx, "note attached to neither issue nor merge request")
		return "", ErrNoBranchRef
	}

	defaultBranch := event.Project.DefaultBranch
	if defaultBranch == "" {
		project, err := d.platform.GetProject(ctx, event.Project.ID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to fetch project for branch creation", "error", err)
			return "", fmt.Errorf("%w: %v", ErrBranchCreation, err)
		}
		defaultBranch = project.DefaultBranch
	}

	branch := d.issueBranchName(event.Issue)
	slog.InfoContext(ctx, "creating branch for issue",
		"branch", branch,
		"from", defaultBranch,
	)

	if err := d.platform.CreateBranch(ctx, event.Project.ID, branch, defaultBranch); err != nil {
		slog.ErrorContext(ctx, "failed to create branch for issue", "error", err, "branch", branch)
		return "", fmt.Errorf("%w: %v", ErrBranchCreation, err)
	}

	return branch, nil
}

// issueBranchName is deterministic in shape and unique per trigger:
// the millisecond timestamp keeps repeated triggers on one issue from
// colliding.
func (d *dispatcher) issueBranchName(issue *model.Issue) string {
	slug := common.Slugify(issue.Title, "task", branchSlugMax)
	return fmt.Sprintf("%s/issue-%d-%s-%d", d.cfg.BranchPrefix, issue.IID, slug, d.now().UnixMilli())
}

// postFailureComment leaves an error summary on the triggering
// resource so the author isn't left guessing why nothing started.
// Best-effort: the original error is what surfaces to the caller.
func (d *dispatcher) postFailureComment(ctx context.Context, event model.NoteEvent, cause error) {
	var summary string
	switch {
	case errors.Is(cause, ErrNoBranchRef):
		summary = "Could not start automation: the merge request has no source branch."
	case errors.Is(cause, ErrBranchCreation):
		summary = "Could not start automation: creating a working branch failed."
	default:
		summary = "Could not start automation: triggering the pipeline failed."
	}
	if err := d.platform.PostComment(ctx, event, summary); err != nil {
		slog.WarnContext(ctx, "failed to post failure comment", "error", err)
	}
}

// afterDispatch runs the best-effort follow-ups: acknowledge the
// triggering note, cancel superseded pipelines, record the audit row.
// Failures here are logged and swallowed.
func (d *dispatcher) afterDispatch(ctx context.Context, event model.NoteEvent, branch string, pipelineID int64) {
	if event.Note.ID != 0 {
		if err := d.platform.AddReaction(ctx, event, reactionEmoji); err != nil {
			slog.WarnContext(ctx, "failed to react to triggering note", "error", err)
		}
	}

	comment := fmt.Sprintf("Started pipeline #%d on `%s`.", pipelineID, branch)
	if err := d.platform.PostComment(ctx, event, comment); err != nil {
		slog.WarnContext(ctx, "failed to post start comment", "error", err)
	}

	if d.cfg.CancelStale {
		if err := d.platform.CancelStalePipelines(ctx, event.Project.ID, pipelineID, branch); err != nil {
			slog.WarnContext(ctx, "failed to cancel stale pipelines", "error", err)
		}
	}

	rec := &model.DispatchRecord{
		ID:           id.New(),
		ProjectID:    event.Project.ID,
		ProjectPath:  event.Project.Path,
		ResourceType: event.ResourceType(),
		ResourceID:   event.ResourceID(),
		Branch:       branch,
		PipelineID:   pipelineID,
		Author:       event.Author.Username,
	}
	if err := d.dispatchLog.Record(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to record dispatch", "error", err)
	}
}
