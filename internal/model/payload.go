package model

import (
	"encoding/json"
	"strconv"
)

// DispatchPayload is the flattened set of variables handed to the
// downstream pipeline. Built once per admitted event.
type DispatchPayload struct {
	Author       string
	ResourceType ResourceType
	ResourceID   int64
	ProjectPath  string
	Branch       string
	DiscussionID string
	Prompt       string
	Model        string
	Phrase       string
	Event        NoteEvent
}

// Variables flattens the payload into the string map the pipeline API
// accepts. AI_TRIGGER selects the agent job in the target project's CI
// rules; everything else is agent context.
func (p DispatchPayload) Variables() map[string]string {
	return map[string]string{
		"AI_TRIGGER":       "true",
		"AI_AUTHOR":        p.Author,
		"AI_RESOURCE_TYPE": string(p.ResourceType),
		"AI_RESOURCE_ID":   strconv.FormatInt(p.ResourceID, 10),
		"AI_PROJECT_PATH":  p.ProjectPath,
		"AI_BRANCH":        p.Branch,
		"AI_DISCUSSION_ID": p.DiscussionID,
		"AI_MODEL":         p.Model,
		"TRIGGER_PHRASE":   p.Phrase,
		"AI_PROMPT":        p.Prompt,
		"AI_EVENT_PAYLOAD": p.minimalEvent(),
	}
}

// minimalEvent serializes just enough of the triggering event for the
// agent to reconstruct context. Pipeline variables have a size cap, so
// the full webhook body is never forwarded.
func (p DispatchPayload) minimalEvent() string {
	type minimalUser struct {
		Username string `json:"username"`
	}
	type minimalNote struct {
		Body string `json:"body"`
	}
	type minimalMR struct {
		IID   int64  `json:"iid"`
		Title string `json:"title"`
		State string `json:"state"`
	}
	type minimalIssue struct {
		IID   int64  `json:"iid"`
		Title string `json:"title"`
		State string `json:"state"`
	}
	minimal := struct {
		ObjectKind   string        `json:"object_kind"`
		User         minimalUser   `json:"user"`
		ProjectPath  string        `json:"project_path"`
		Note         minimalNote   `json:"note"`
		MergeRequest *minimalMR    `json:"merge_request,omitempty"`
		Issue        *minimalIssue `json:"issue,omitempty"`
	}{
		ObjectKind:  p.Event.ObjectKind,
		User:        minimalUser{Username: p.Event.Author.Username},
		ProjectPath: p.Event.Project.Path,
		Note:        minimalNote{Body: p.Event.Note.Body},
	}
	if mr := p.Event.MergeRequest; mr != nil {
		minimal.MergeRequest = &minimalMR{IID: mr.IID, Title: mr.Title, State: mr.State}
	}
	if issue := p.Event.Issue; issue != nil {
		minimal.Issue = &minimalIssue{IID: issue.IID, Title: issue.Title, State: issue.State}
	}

	data, err := json.Marshal(minimal)
	if err != nil {
		return "{}"
	}
	return string(data)
}
