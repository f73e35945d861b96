package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"forgeline.dev/bridge/internal/model"
)

// Each outbound call gets its own deadline so a slow platform API can
// never hold a webhook request open indefinitely.
const callTimeout = 10 * time.Second

// Client is the outbound surface the dispatch gate needs from the
// collaboration platform.
type Client interface {
	GetProject(ctx context.Context, projectID int64) (*model.Project, error)
	CreateBranch(ctx context.Context, projectID int64, branch, ref string) error
	TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (int64, error)
	CancelStalePipelines(ctx context.Context, projectID, keepPipelineID int64, ref string) error
	PostComment(ctx context.Context, event model.NoteEvent, body string) error
	AddReaction(ctx context.Context, event model.NoteEvent, emoji string) error
	GetDiscussionNotes(ctx context.Context, event model.NoteEvent) ([]model.ThreadNote, error)
}

type gitLabClient struct {
	client *gitlab.Client
}

// NewGitLabClient builds a Client against the given GitLab instance.
// baseURL may be empty for gitlab.com.
func NewGitLabClient(baseURL, token string) (Client, error) {
	var client *gitlab.Client
	var err error
	if baseURL == "" || baseURL == "https://gitlab.com" {
		client, err = gitlab.NewClient(token)
	} else {
		apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
		client, err = gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
	}
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &gitLabClient{client: client}, nil
}

func (c *gitLabClient) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	project, _, err := c.client.Projects.GetProject(int(projectID), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching project %d: %w", projectID, err)
	}

	defaultBranch := project.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	return &model.Project{
		ID:            int64(project.ID),
		Path:          project.PathWithNamespace,
		DefaultBranch: defaultBranch,
	}, nil
}

func (c *gitLabClient) CreateBranch(ctx context.Context, projectID int64, branch, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, _, err := c.client.Branches.CreateBranch(int(projectID), &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(branch),
		Ref:    gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating branch %q from %q: %w", branch, ref, err)
	}
	return nil
}

func (c *gitLabClient) TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	vars := make([]*gitlab.PipelineVariableOptions, 0, len(variables))
	for key, value := range variables {
		vars = append(vars, &gitlab.PipelineVariableOptions{
			Key:   gitlab.Ptr(key),
			Value: gitlab.Ptr(value),
		})
	}

	pipeline, _, err := c.client.Pipelines.CreatePipeline(int(projectID), &gitlab.CreatePipelineOptions{
		Ref:       gitlab.Ptr(ref),
		Variables: &vars,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("creating pipeline on %q: %w", ref, err)
	}

	return int64(pipeline.ID), nil
}

func (c *gitLabClient) CancelStalePipelines(ctx context.Context, projectID, keepPipelineID int64, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	pipelines, _, err := c.client.Pipelines.ListProjectPipelines(int(projectID), &gitlab.ListProjectPipelinesOptions{
		Ref:    gitlab.Ptr(ref),
		Status: gitlab.Ptr(gitlab.Pending),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("listing pipelines for %q: %w", ref, err)
	}

	var errs []error
	for _, p := range pipelines {
		if int64(p.ID) == keepPipelineID {
			continue
		}
		if _, _, err := c.client.Pipelines.CancelPipelineBuild(int(projectID), p.ID, gitlab.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("cancelling pipeline %d: %w", p.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cancel errors: %v", errs)
	}
	return nil
}

func (c *gitLabClient) PostComment(ctx context.Context, event model.NoteEvent, body string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	projectID := int(event.Project.ID)
	switch {
	case event.MergeRequest != nil:
		_, _, err := c.client.Notes.CreateMergeRequestNote(projectID, event.MergeRequest.IID, &gitlab.CreateMergeRequestNoteOptions{
			Body: gitlab.Ptr(body),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("posting merge request note: %w", err)
		}
	case event.Issue != nil:
		_, _, err := c.client.Notes.CreateIssueNote(projectID, event.Issue.IID, &gitlab.CreateIssueNoteOptions{
			Body: gitlab.Ptr(body),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("posting issue note: %w", err)
		}
	default:
		return fmt.Errorf("note attached to neither issue nor merge request")
	}
	return nil
}

func (c *gitLabClient) AddReaction(ctx context.Context, event model.NoteEvent, emoji string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	projectID := int(event.Project.ID)
	noteID := event.Note.ID
	opt := &gitlab.CreateAwardEmojiOptions{Name: emoji}

	switch {
	case event.MergeRequest != nil:
		_, _, err := c.client.AwardEmoji.CreateMergeRequestAwardEmojiOnNote(projectID, event.MergeRequest.IID, noteID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("reacting to merge request note: %w", err)
		}
	case event.Issue != nil:
		_, _, err := c.client.AwardEmoji.CreateIssuesAwardEmojiOnNote(projectID, event.Issue.IID, noteID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("reacting to issue note: %w", err)
		}
	default:
		return fmt.Errorf("note attached to neither issue nor merge request")
	}
	return nil
}

func (c *gitLabClient) GetDiscussionNotes(ctx context.Context, event model.NoteEvent) ([]model.ThreadNote, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if event.DiscussionID == "" {
		return nil, nil
	}

	projectID := int(event.Project.ID)
	var discussions []*gitlab.Discussion
	var err error

	switch {
	case event.MergeRequest != nil:
		discussions, _, err = c.client.Discussions.ListMergeRequestDiscussions(projectID, event.MergeRequest.IID, nil, gitlab.WithContext(ctx))
	case event.Issue != nil:
		discussions, _, err = c.client.Discussions.ListIssueDiscussions(projectID, event.Issue.IID, nil, gitlab.WithContext(ctx))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing discussions: %w", err)
	}

	for _, d := range discussions {
		if d == nil || d.ID != event.DiscussionID {
			continue
		}
		notes := make([]model.ThreadNote, 0, len(d.Notes))
		for _, n := range d.Notes {
			if n == nil {
				continue
			}
			author := n.Author.Username
			if author == "" {
				author = n.Author.Name
			}
			note := model.ThreadNote{
				Author: author,
				Body:   n.Body,
				System: n.System,
			}
			if n.CreatedAt != nil {
				note.CreatedAt = *n.CreatedAt
			}
			notes = append(notes, note)
		}
		return notes, nil
	}

	return nil, nil
}
