package linking_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/linking"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubService struct {
	pending *linking.Notification
	result  *linking.ActionResult
	err     error
	lastDTO linking.ActionDTO
}

func (s *stubService) GetPending(ctx context.Context, userID, orgID string) (*linking.Notification, error) {
	return s.pending, s.err
}

func (s *stubService) Act(ctx context.Context, userID string, dto linking.ActionDTO) (*linking.ActionResult, error) {
	s.lastDTO = dto
	return s.result, s.err
}

var _ = Describe("Linking Handler", func() {
	var (
		stub    *stubService
		handler *linking.Handler
	)

	BeforeEach(func() {
		stub = &stubService{}
		handler = linking.NewHandler(stub)
	})

	withUser := func(req *http.Request) *http.Request {
		return req.WithContext(errors.ContextWithUserID(req.Context(), "user-1"))
	}

	It("returns a null notification when nothing is pending", func() {
		req := withUser(httptest.NewRequest(http.MethodGet, "/reactive-linking?organizationId=org-1", nil))
		rec := httptest.NewRecorder()

		handler.GetPending(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"notification":null}`))
	})

	It("reports the linked count", func() {
		count := 3
		stub.result = &linking.ActionResult{Success: true, LinkedCount: &count}
		body, _ := json.Marshal(map[string]string{"action": "link", "organizationId": "org-1", "notificationId": "n-1"})
		req := withUser(httptest.NewRequest(http.MethodPost, "/reactive-linking", bytes.NewReader(body)))
		rec := httptest.NewRecorder()

		handler.Act(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"success":true,"linkedCount":3}`))
		Expect(stub.lastDTO.NotificationID).To(Equal("n-1"))
	})

	It("maps a missing notification to 404", func() {
		stub.err = errors.ErrNotificationNotFound
		body := []byte(`{"action":"link","organizationId":"org-1","notificationId":"gone"}`)
		req := withUser(httptest.NewRequest(http.MethodPost, "/reactive-linking", bytes.NewReader(body)))
		rec := httptest.NewRecorder()

		handler.Act(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("rejects anonymous callers", func() {
		req := httptest.NewRequest(http.MethodGet, "/reactive-linking?organizationId=org-1", nil)
		rec := httptest.NewRecorder()

		handler.GetPending(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
