package dto

import (
	"fmt"

	"forgeline.dev/bridge/internal/model"
)

// NoteHookPayload mirrors GitLab's Note Hook body. Only the fields the
// bridge reads are declared; everything else is dropped at decode time.
type NoteHookPayload struct {
	ObjectKind       string            `json:"object_kind"`
	User             *UserPayload      `json:"user"`
	Project          *ProjectPayload   `json:"project"`
	ObjectAttributes *NoteAttributes   `json:"object_attributes"`
	MergeRequest     *MRPayload        `json:"merge_request"`
	Issue            *IssuePayload     `json:"issue"`
}

type UserPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type ProjectPayload struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
}

type NoteAttributes struct {
	ID           int64  `json:"id"`
	Note         string `json:"note"`
	NoteableType string `json:"noteable_type"`
	DiscussionID string `json:"discussion_id"`
}

type MRPayload struct {
	IID          int64  `json:"iid"`
	SourceBranch string `json:"source_branch"`
	Title        string `json:"title"`
	State        string `json:"state"`
}

type IssuePayload struct {
	IID   int64  `json:"iid"`
	Title string `json:"title"`
	State string `json:"state"`
}

// ToEvent validates the payload and converts it into the immutable
// event the dispatch gate consumes. Required fields are checked here,
// at the boundary, so services never touch a half-formed event.
func (p NoteHookPayload) ToEvent() (model.NoteEvent, error) {
	if p.ObjectKind != "note" {
		return model.NoteEvent{}, fmt.Errorf("unexpected object_kind %q", p.ObjectKind)
	}
	if p.User == nil || p.User.Username == "" {
		return model.NoteEvent{}, fmt.Errorf("missing user in note payload")
	}
	if p.Project == nil || p.Project.ID == 0 {
		return model.NoteEvent{}, fmt.Errorf("missing project in note payload")
	}
	if p.ObjectAttributes == nil {
		return model.NoteEvent{}, fmt.Errorf("missing object_attributes in note payload")
	}
	if p.MergeRequest != nil && p.MergeRequest.IID == 0 {
		return model.NoteEvent{}, fmt.Errorf("merge_request present without iid")
	}
	if p.Issue != nil && p.Issue.IID == 0 {
		return model.NoteEvent{}, fmt.Errorf("issue present without iid")
	}

	event := model.NoteEvent{
		ObjectKind: p.ObjectKind,
		Author: model.Author{
			ID:       p.User.ID,
			Username: p.User.Username,
			Name:     p.User.Name,
		},
		Project: model.Project{
			ID:            p.Project.ID,
			Path:          p.Project.PathWithNamespace,
			DefaultBranch: p.Project.DefaultBranch,
		},
		Note: model.Note{
			ID:   p.ObjectAttributes.ID,
			Body: p.ObjectAttributes.Note,
		},
		DiscussionID: p.ObjectAttributes.DiscussionID,
	}

	if p.MergeRequest != nil {
		event.MergeRequest = &model.MergeRequest{
			IID:          p.MergeRequest.IID,
			SourceBranch: p.MergeRequest.SourceBranch,
			Title:        p.MergeRequest.Title,
			State:        p.MergeRequest.State,
		}
	}
	if p.Issue != nil {
		event.Issue = &model.Issue{
			IID:   p.Issue.IID,
			Title: p.Issue.Title,
			State: p.Issue.State,
		}
	}

	return event, nil
}
