package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forgeline.dev/bridge/internal/http/handler/webhook"
	"forgeline.dev/bridge/internal/model"
	"forgeline.dev/bridge/internal/service"
)

type fakeDispatcher struct {
	outcome service.Outcome
	err     error
	events  []model.NoteEvent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, event model.NoteEvent) (service.Outcome, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return service.Outcome{}, f.err
	}
	return f.outcome, nil
}

var _ = Describe("GitLabWebhookHandler", func() {
	var (
		router     *gin.Engine
		dispatcher *fakeDispatcher
	)

	notePayload := func() map[string]any {
		return map[string]any{
			"object_kind": "note",
			"user":        map[string]any{"id": 7, "username": "dev1", "name": "Dev One"},
			"project": map[string]any{
				"id":                  42,
				"path_with_namespace": "group/app",
				"default_branch":      "main",
			},
			"object_attributes": map[string]any{
				"id":            900,
				"note":          "@ai do the thing",
				"noteable_type": "MergeRequest",
				"discussion_id": "d1",
			},
			"merge_request": map[string]any{
				"iid":           12,
				"source_branch": "feature/x",
				"title":         "Add widget",
				"state":         "opened",
			},
		}
	}

	post := func(body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	validHeaders := map[string]string{
		"X-Webhook-Token": "secret",
		"X-Event-Kind":    "Note Hook",
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		dispatcher = &fakeDispatcher{outcome: service.Outcome{
			Status:     service.StatusDispatched,
			PipelineID: 5555,
			Branch:     "feature/x",
		}}
		h := webhook.NewGitLabWebhookHandler("secret", dispatcher)
		router.POST("/webhook", h.HandleEvent)
	})

	It("rejects a missing or wrong token before reading the body", func() {
		payload, _ := json.Marshal(notePayload())

		w := post(payload, map[string]string{"X-Event-Kind": "Note Hook"})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))

		w = post(payload, map[string]string{"X-Webhook-Token": "wrong", "X-Event-Kind": "Note Hook"})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))

		Expect(dispatcher.events).To(BeEmpty())
	})

	It("acknowledges non-note event kinds without dispatching", func() {
		payload, _ := json.Marshal(map[string]any{"object_kind": "push"})

		w := post(payload, map[string]string{"X-Webhook-Token": "secret", "X-Event-Kind": "Push Hook"})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("ignored"))
		Expect(dispatcher.events).To(BeEmpty())
	})

	It("rejects malformed JSON", func() {
		w := post([]byte("{not json"), validHeaders)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects note payloads missing required fields", func() {
		body := notePayload()
		delete(body, "user")
		payload, _ := json.Marshal(body)

		w := post(payload, validHeaders)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(dispatcher.events).To(BeEmpty())
	})

	It("dispatches a valid note event and reports the pipeline", func() {
		payload, _ := json.Marshal(notePayload())

		w := post(payload, validHeaders)

		Expect(w.Code).To(Equal(http.StatusOK))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp).To(HaveKeyWithValue("status", "started"))
		Expect(resp).To(HaveKeyWithValue("pipelineId", float64(5555)))
		Expect(resp).To(HaveKeyWithValue("branch", "feature/x"))

		Expect(dispatcher.events).To(HaveLen(1))
		event := dispatcher.events[0]
		Expect(event.Author.Username).To(Equal("dev1"))
		Expect(event.Project.ID).To(Equal(int64(42)))
		Expect(event.MergeRequest).ToNot(BeNil())
		Expect(event.MergeRequest.SourceBranch).To(Equal("feature/x"))
		Expect(event.DiscussionID).To(Equal("d1"))
	})

	DescribeTable("passes non-dispatching outcomes through as plain text",
		func(status service.Status) {
			dispatcher.outcome = service.Outcome{Status: status}
			payload, _ := json.Marshal(notePayload())

			w := post(payload, validHeaders)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal(string(status)))
		},
		Entry("skipped", service.StatusSkipped),
		Entry("disabled", service.StatusDisabled),
		Entry("rate-limited", service.StatusRateLimited),
	)

	It("maps a missing branch ref to a client error", func() {
		dispatcher.err = service.ErrNoBranchRef
		payload, _ := json.Marshal(notePayload())

		w := post(payload, validHeaders)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(w.Body.String()).To(Equal("no-branch-ref"))
	})

	It("maps branch creation failure to a server error", func() {
		dispatcher.err = service.ErrBranchCreation
		payload, _ := json.Marshal(notePayload())

		w := post(payload, validHeaders)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(Equal("branch-creation-failed"))
	})

	It("maps dispatch failure to a generic server error", func() {
		dispatcher.err = service.ErrDispatchFailed
		payload, _ := json.Marshal(notePayload())

		w := post(payload, validHeaders)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring("failed to trigger pipeline"))
	})
})
