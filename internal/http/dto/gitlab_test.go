package dto_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forgeline.dev/bridge/internal/http/dto"
	"forgeline.dev/bridge/internal/model"
)

var _ = Describe("NoteHookPayload", func() {
	valid := func() dto.NoteHookPayload {
		return dto.NoteHookPayload{
			ObjectKind: "note",
			User:       &dto.UserPayload{ID: 7, Username: "dev1", Name: "Dev One"},
			Project: &dto.ProjectPayload{
				ID:                42,
				PathWithNamespace: "group/app",
				DefaultBranch:     "main",
			},
			ObjectAttributes: &dto.NoteAttributes{
				ID:           900,
				Note:         "@ai do it",
				NoteableType: "MergeRequest",
				DiscussionID: "d1",
			},
			MergeRequest: &dto.MRPayload{IID: 12, SourceBranch: "feature/x", Title: "Add widget", State: "opened"},
		}
	}

	It("converts a complete merge request note", func() {
		event, err := valid().ToEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(event.ResourceType()).To(Equal(model.ResourceMergeRequest))
		Expect(event.ResourceID()).To(Equal(int64(12)))
		Expect(event.Project.Path).To(Equal("group/app"))
		Expect(event.Note.Body).To(Equal("@ai do it"))
		Expect(event.DiscussionID).To(Equal("d1"))
	})

	It("converts an issue note", func() {
		p := valid()
		p.MergeRequest = nil
		p.Issue = &dto.IssuePayload{IID: 7, Title: "Fix login", State: "opened"}

		event, err := p.ToEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(event.ResourceType()).To(Equal(model.ResourceIssue))
		Expect(event.ResourceID()).To(Equal(int64(7)))
	})

	It("classifies notes with no attached resource as general", func() {
		p := valid()
		p.MergeRequest = nil

		event, err := p.ToEvent()
		Expect(err).ToNot(HaveOccurred())
		Expect(event.ResourceType()).To(Equal(model.ResourceGeneral))
		Expect(event.ResourceID()).To(BeZero())
	})

	It("rejects the wrong object kind", func() {
		p := valid()
		p.ObjectKind = "issue"
		_, err := p.ToEvent()
		Expect(err).To(MatchError(ContainSubstring("object_kind")))
	})

	It("rejects a payload without a user", func() {
		p := valid()
		p.User = nil
		_, err := p.ToEvent()
		Expect(err).To(MatchError(ContainSubstring("user")))
	})

	It("rejects a payload without a project id", func() {
		p := valid()
		p.Project = &dto.ProjectPayload{}
		_, err := p.ToEvent()
		Expect(err).To(MatchError(ContainSubstring("project")))
	})

	It("rejects a merge request stub without an iid", func() {
		p := valid()
		p.MergeRequest = &dto.MRPayload{SourceBranch: "feature/x"}
		_, err := p.ToEvent()
		Expect(err).To(MatchError(ContainSubstring("iid")))
	})
})
