package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/acme/shelfsort/internal/data"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/mocks"
	"github.com/acme/shelfsort/internal/service"
)

func newJobHandlersWithMock(t *testing.T) (*JobHandlers, *mocks.MockJobRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockJobRepository(ctrl)
	svc := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         mockRepo,
		DefaultLease: 30 * time.Second,
	})
	return &JobHandlers{Svc: svc}, mockRepo
}

func TestJobList_Filters(t *testing.T) {
	h, mockRepo := newJobHandlersWithMock(t)

	mockRepo.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, opts *model.JobListOptions) ([]*model.Job, error) {
			require.NotNil(t, opts.Queue)
			assert.Equal(t, model.QueueBulkOperation, *opts.Queue)
			require.NotNil(t, opts.Status)
			assert.Equal(t, model.JobStatusFailed, *opts.Status)
			require.NotNil(t, opts.DedupKey)
			assert.Equal(t, "BO:42", *opts.DedupKey)
			assert.Equal(t, 10, opts.Limit)
			assert.Equal(t, 20, opts.Offset)
			return []*model.Job{{ID: "job-1", Queue: model.QueueBulkOperation}}, nil
		})

	r := httptest.NewRequest(http.MethodGet,
		"/api/jobs?queue=bulk-operation&status=FAILED&dedup_key=BO:42&limit=10&offset=20", nil)
	w := httptest.NewRecorder()
	h.List(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Jobs []model.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "job-1", body.Jobs[0].ID)
}

func TestJobList_InvalidFilters(t *testing.T) {
	h, _ := newJobHandlersWithMock(t)

	for _, target := range []string{"/api/jobs?queue=browser", "/api/jobs?status=stuck"} {
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestJobStats(t *testing.T) {
	h, mockRepo := newJobHandlersWithMock(t)
	mockRepo.EXPECT().Stats(gomock.Any(), model.QueueHideProduct).
		Return(&model.JobStats{Pending: 3, Failed: 1}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/stats/hide-product", nil)
	r.SetPathValue("queue", "hide-product")
	w := httptest.NewRecorder()
	h.Stats(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pending":3,"running":0,"completed":0,"failed":1}`, w.Body.String())
}

const testJobID = "0b7f8a52-6c1e-4d7e-9a51-1f0c4e2b9d33"

func TestJobGet(t *testing.T) {
	tests := []struct {
		name   string
		job    *model.Job
		err    error
		status int
	}{
		{name: "found", job: &model.Job{ID: testJobID}, status: http.StatusOK},
		{name: "missing", err: data.ErrJobNotFound, status: http.StatusNotFound},
		{name: "db error", err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mockRepo := newJobHandlersWithMock(t)
			mockRepo.EXPECT().GetByID(gomock.Any(), testJobID).Return(tt.job, tt.err)

			r := httptest.NewRequest(http.MethodGet, "/api/jobs/"+testJobID, nil)
			r.SetPathValue("id", testJobID)
			w := httptest.NewRecorder()
			h.Get(w, r)

			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("malformed id never reaches the repository", func(t *testing.T) {
		h, _ := newJobHandlersWithMock(t)
		r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
		r.SetPathValue("id", "job-1")
		w := httptest.NewRecorder()
		h.Get(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_path")
	})
}
