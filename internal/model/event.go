package model

import "fmt"

type ResourceType string

const (
	ResourceMergeRequest ResourceType = "merge_request"
	ResourceIssue        ResourceType = "issue"
	// ResourceGeneral is the rate-limit bucket for notes attached to
	// neither an issue nor a merge request.
	ResourceGeneral ResourceType = "general"
)

// NoteEvent is the validated, immutable form of an inbound note
// webhook. Constructed once per request at the HTTP boundary.
type NoteEvent struct {
	ObjectKind   string
	Author       Author
	Project      Project
	Note         Note
	MergeRequest *MergeRequest
	Issue        *Issue
	DiscussionID string
}

type Author struct {
	ID       int64
	Username string
	Name     string
}

type Project struct {
	ID            int64
	Path          string
	DefaultBranch string
}

type Note struct {
	ID   int64
	Body string
}

type MergeRequest struct {
	IID          int64
	SourceBranch string
	Title        string
	State        string
}

type Issue struct {
	IID   int64
	Title string
	State string
}

// ResourceType classifies the resource the note is attached to. Merge
// requests win when both sub-objects are present, matching GitLab's
// note payloads where only one is ever set.
func (e NoteEvent) ResourceType() ResourceType {
	switch {
	case e.MergeRequest != nil:
		return ResourceMergeRequest
	case e.Issue != nil:
		return ResourceIssue
	default:
		return ResourceGeneral
	}
}

// ResourceID returns the IID of the attached resource, or 0 for
// resourceless notes.
func (e NoteEvent) ResourceID() int64 {
	switch {
	case e.MergeRequest != nil:
		return e.MergeRequest.IID
	case e.Issue != nil:
		return e.Issue.IID
	default:
		return 0
	}
}

// DispatchKey is the rate-limit bucket and log correlation key for one
// actor acting on one resource.
type DispatchKey struct {
	Author    string
	ProjectID int64
	Resource  string
}

func NewDispatchKey(e NoteEvent) DispatchKey {
	resource := string(ResourceGeneral)
	if id := e.ResourceID(); id != 0 {
		resource = fmt.Sprintf("%d", id)
	}
	return DispatchKey{
		Author:    e.Author.Username,
		ProjectID: e.Project.ID,
		Resource:  resource,
	}
}

func (k DispatchKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Author, k.ProjectID, k.Resource)
}
