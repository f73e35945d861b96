package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forgeline.dev/bridge/internal/model"
	"forgeline.dev/bridge/internal/service"
)

var _ = Describe("Dispatcher", func() {
	var (
		client     *mockPlatformClient
		limiter    *mockLimiter
		killSwitch *mockKillSwitch
		dlog       *mockDispatchLog
		cfg        service.DispatcherConfig
		ctx        context.Context
	)

	newDispatcher := func() service.Dispatcher {
		return service.NewDispatcher(
			service.NewTriggerMatcher("@ai"),
			killSwitch,
			limiter,
			client,
			service.NewDiscussionAggregator(client),
			dlog,
			cfg,
		)
	}

	mrEvent := func(body string) model.NoteEvent {
		return model.NoteEvent{
			ObjectKind: "note",
			Author:     model.Author{ID: 7, Username: "dev1"},
			Project:    model.Project{ID: 42, Path: "group/app", DefaultBranch: "main"},
			Note:       model.Note{ID: 900, Body: body},
			MergeRequest: &model.MergeRequest{
				IID:          12,
				SourceBranch: "feature/x",
				Title:        "Add widget",
				State:        "opened",
			},
			DiscussionID: "d1",
		}
	}

	issueEvent := func(body string) model.NoteEvent {
		return model.NoteEvent{
			ObjectKind: "note",
			Author:     model.Author{ID: 7, Username: "dev1"},
			Project:    model.Project{ID: 42, Path: "group/app", DefaultBranch: "main"},
			Note:       model.Note{ID: 901, Body: body},
			Issue: &model.Issue{
				IID:   7,
				Title: "Fix Login Bug!",
				State: "opened",
			},
		}
	}

	BeforeEach(func() {
		client = &mockPlatformClient{}
		limiter = &mockLimiter{}
		killSwitch = &mockKillSwitch{}
		dlog = &mockDispatchLog{}
		cfg = service.DispatcherConfig{
			BranchPrefix: "ai",
			Model:        "claude-sonnet-4-5",
			CancelStale:  false,
		}
		ctx = context.Background()
	})

	Describe("gate ordering", func() {
		It("skips untriggered notes without touching any other gate", func() {
			killSwitch.disabled = true

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("just a normal comment"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusSkipped))
			Expect(limiter.calls).To(BeEmpty())
		})

		It("reports disabled before consuming rate-limit quota", func() {
			killSwitch.disabled = true

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusDisabled))
			Expect(limiter.calls).To(BeEmpty())
		})

		It("reports rate-limited without triggering a pipeline", func() {
			limiter.admitFn = func(context.Context, string) bool { return false }
			triggered := false
			client.triggerPipelineFn = func(context.Context, int64, string, map[string]string) (int64, error) {
				triggered = true
				return 0, nil
			}

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusRateLimited))
			Expect(triggered).To(BeFalse())
		})

		It("buckets rate limiting per author, project and resource", func() {
			_, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))
			Expect(err).ToNot(HaveOccurred())
			Expect(limiter.calls).To(ConsistOf("dev1:42:12"))
		})
	})

	Describe("merge request notes", func() {
		It("dispatches on the merge request source branch", func() {
			var gotRef string
			var gotVars map[string]string
			client.triggerPipelineFn = func(_ context.Context, projectID int64, ref string, vars map[string]string) (int64, error) {
				Expect(projectID).To(Equal(int64(42)))
				gotRef = ref
				gotVars = vars
				return 5555, nil
			}

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("@ai refactor the parser"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusDispatched))
			Expect(outcome.PipelineID).To(Equal(int64(5555)))
			Expect(outcome.Branch).To(Equal("feature/x"))
			Expect(gotRef).To(Equal("feature/x"))

			Expect(gotVars).To(HaveKeyWithValue("AI_TRIGGER", "true"))
			Expect(gotVars).To(HaveKeyWithValue("AI_AUTHOR", "dev1"))
			Expect(gotVars).To(HaveKeyWithValue("AI_RESOURCE_TYPE", "merge_request"))
			Expect(gotVars).To(HaveKeyWithValue("AI_RESOURCE_ID", "12"))
			Expect(gotVars).To(HaveKeyWithValue("AI_PROJECT_PATH", "group/app"))
			Expect(gotVars).To(HaveKeyWithValue("AI_BRANCH", "feature/x"))
			Expect(gotVars).To(HaveKeyWithValue("AI_DISCUSSION_ID", "d1"))
			Expect(gotVars).To(HaveKeyWithValue("AI_MODEL", "claude-sonnet-4-5"))
			Expect(gotVars).To(HaveKeyWithValue("TRIGGER_PHRASE", "@ai"))
			Expect(gotVars).To(HaveKey("AI_PROMPT"))
			Expect(gotVars).To(HaveKey("AI_EVENT_PAYLOAD"))

			var minimal map[string]any
			Expect(json.Unmarshal([]byte(gotVars["AI_EVENT_PAYLOAD"]), &minimal)).To(Succeed())
			Expect(minimal).To(HaveKeyWithValue("project_path", "group/app"))
		})

		It("never creates a branch for a merge request note", func() {
			created := false
			client.createBranchFn = func(context.Context, int64, string, string) error {
				created = true
				return nil
			}

			_, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
		})

		It("fails hard when the merge request has no source branch", func() {
			event := mrEvent("@ai do it")
			event.MergeRequest.SourceBranch = ""

			_, err := newDispatcher().Dispatch(ctx, event)

			Expect(err).To(MatchError(service.ErrNoBranchRef))
		})
	})

	Describe("issue notes", func() {
		branchShape := regexp.MustCompile(`^ai/issue-7-fix-login-bug-\d+$`)

		It("cuts a fresh branch from the project default", func() {
			var createdBranch, createdRef string
			client.createBranchFn = func(_ context.Context, projectID int64, branch, ref string) error {
				Expect(projectID).To(Equal(int64(42)))
				createdBranch = branch
				createdRef = ref
				return nil
			}
			var dispatchedRef string
			client.triggerPipelineFn = func(_ context.Context, _ int64, ref string, _ map[string]string) (int64, error) {
				dispatchedRef = ref
				return 100, nil
			}

			outcome, err := newDispatcher().Dispatch(ctx, issueEvent("@ai fix this"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusDispatched))
			Expect(createdBranch).To(MatchRegexp(branchShape.String()))
			Expect(createdRef).To(Equal("main"))
			Expect(dispatchedRef).To(Equal(createdBranch))
		})

		It("looks up the project when the payload omits the default branch", func() {
			event := issueEvent("@ai fix this")
			event.Project.DefaultBranch = ""
			client.getProjectFn = func(_ context.Context, projectID int64) (*model.Project, error) {
				return &model.Project{ID: projectID, Path: "group/app", DefaultBranch: "develop"}, nil
			}
			var createdRef string
			client.createBranchFn = func(_ context.Context, _ int64, _, ref string) error {
				createdRef = ref
				return nil
			}

			_, err := newDispatcher().Dispatch(ctx, event)

			Expect(err).ToNot(HaveOccurred())
			Expect(createdRef).To(Equal("develop"))
		})

		It("never reuses a branch name across repeated triggers on one issue", func() {
			var branches []string
			client.createBranchFn = func(_ context.Context, _ int64, branch, _ string) error {
				branches = append(branches, branch)
				return nil
			}

			d := newDispatcher()
			for i := 0; i < 3; i++ {
				_, err := d.Dispatch(ctx, issueEvent("@ai fix this"))
				Expect(err).ToNot(HaveOccurred())
				// Branch names embed a millisecond timestamp.
				time.Sleep(2 * time.Millisecond)
			}

			seen := map[string]bool{}
			for _, b := range branches {
				Expect(seen[b]).To(BeFalse(), "duplicate branch name %s", b)
				seen[b] = true
			}
		})

		It("fails hard when branch creation fails, with no fallback branch", func() {
			client.createBranchFn = func(context.Context, int64, string, string) error {
				return errors.New("403 insufficient permissions")
			}
			triggered := false
			client.triggerPipelineFn = func(context.Context, int64, string, map[string]string) (int64, error) {
				triggered = true
				return 0, nil
			}

			_, err := newDispatcher().Dispatch(ctx, issueEvent("@ai fix this"))

			Expect(err).To(MatchError(service.ErrBranchCreation))
			Expect(triggered).To(BeFalse(), "must not dispatch onto the default branch")
		})

		It("fails hard when the note has no attached resource", func() {
			event := issueEvent("@ai fix this")
			event.Issue = nil

			_, err := newDispatcher().Dispatch(ctx, event)

			Expect(err).To(MatchError(service.ErrNoBranchRef))
		})
	})

	Describe("dispatch failure", func() {
		It("wraps pipeline trigger errors and posts an error summary instead of the success follow-ups", func() {
			client.triggerPipelineFn = func(context.Context, int64, string, map[string]string) (int64, error) {
				return 0, errors.New("502 bad gateway")
			}
			var comments []string
			client.postCommentFn = func(_ context.Context, _ model.NoteEvent, body string) error {
				comments = append(comments, body)
				return nil
			}
			reacted := false
			client.addReactionFn = func(context.Context, model.NoteEvent, string) error {
				reacted = true
				return nil
			}

			_, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).To(MatchError(service.ErrDispatchFailed))
			Expect(comments).To(ConsistOf(ContainSubstring("triggering the pipeline failed")))
			Expect(reacted).To(BeFalse())
			Expect(dlog.records).To(BeEmpty())
		})

		It("tells the author when branch creation fails", func() {
			client.createBranchFn = func(context.Context, int64, string, string) error {
				return errors.New("403")
			}
			var comments []string
			client.postCommentFn = func(_ context.Context, _ model.NoteEvent, body string) error {
				comments = append(comments, body)
				return nil
			}

			_, err := newDispatcher().Dispatch(ctx, issueEvent("@ai fix this"))

			Expect(err).To(MatchError(service.ErrBranchCreation))
			Expect(comments).To(ConsistOf(ContainSubstring("working branch failed")))
		})
	})

	Describe("after dispatch", func() {
		It("reacts, comments and records the dispatch", func() {
			var reaction string
			client.addReactionFn = func(_ context.Context, _ model.NoteEvent, emoji string) error {
				reaction = emoji
				return nil
			}
			var comment string
			client.postCommentFn = func(_ context.Context, _ model.NoteEvent, body string) error {
				comment = body
				return nil
			}
			client.triggerPipelineFn = func(context.Context, int64, string, map[string]string) (int64, error) {
				return 777, nil
			}

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusDispatched))
			Expect(reaction).To(Equal("robot"))
			Expect(comment).To(Equal("Started pipeline #777 on `feature/x`."))

			Expect(dlog.records).To(HaveLen(1))
			rec := dlog.records[0]
			Expect(rec.ProjectID).To(Equal(int64(42)))
			Expect(rec.ResourceType).To(Equal(model.ResourceMergeRequest))
			Expect(rec.ResourceID).To(Equal(int64(12)))
			Expect(rec.Branch).To(Equal("feature/x"))
			Expect(rec.PipelineID).To(Equal(int64(777)))
			Expect(rec.Author).To(Equal("dev1"))
		})

		It("swallows follow-up failures after a successful dispatch", func() {
			client.addReactionFn = func(context.Context, model.NoteEvent, string) error {
				return errors.New("reaction failed")
			}
			client.postCommentFn = func(context.Context, model.NoteEvent, string) error {
				return errors.New("comment failed")
			}
			dlog.recordFn = func(context.Context, *model.DispatchRecord) error {
				return errors.New("db down")
			}

			outcome, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Status).To(Equal(service.StatusDispatched))
		})

		It("cancels stale pipelines only when configured", func() {
			var cancelled bool
			var keptID int64
			client.cancelStalePipelinesFn = func(_ context.Context, _ int64, keep int64, _ string) error {
				cancelled = true
				keptID = keep
				return nil
			}
			client.triggerPipelineFn = func(context.Context, int64, string, map[string]string) (int64, error) {
				return 321, nil
			}

			_, err := newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))
			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled).To(BeFalse())

			cfg.CancelStale = true
			_, err = newDispatcher().Dispatch(ctx, mrEvent("@ai do it"))
			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled).To(BeTrue())
			Expect(keptID).To(Equal(int64(321)))
		})
	})
})
