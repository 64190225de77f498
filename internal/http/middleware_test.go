package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain/model"
)

type stubJobs struct{}

func (stubJobs) List(context.Context, *model.JobListOptions) ([]*model.Job, error) { return nil, nil }

func (stubJobs) Stats(context.Context, model.QueueName) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (stubJobs) GetByID(context.Context, string) (*model.Job, error) { return &model.Job{}, nil }

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func echoBody() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	})
}

func TestVerifyWebhook(t *testing.T) {
	const secret = "shh"
	const body = `{"id":1}`
	h := VerifyWebhook(secret, slog.Default())(echoBody())

	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{name: "valid", signature: sign(secret, body), status: http.StatusOK},
		{name: "wrong secret", signature: sign("other", body), status: http.StatusUnauthorized},
		{name: "missing", signature: "", status: http.StatusUnauthorized},
		{name: "not base64", signature: "%%%", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhooks/products/update", strings.NewReader(body))
			if tt.signature != "" {
				r.Header.Set(HeaderHMAC, tt.signature)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, body, w.Body.String(), "body is restored for the next handler")
			}
		})
	}
}

func TestVerifyWebhook_NoSecretSkips(t *testing.T) {
	h := VerifyWebhook("", nil)(echoBody())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name   string
		token  string
		header string
		status int
	}{
		{name: "disabled", token: "", header: "Bearer anything", status: http.StatusNotFound},
		{name: "missing header", token: "t0k", status: http.StatusUnauthorized},
		{name: "wrong token", token: "t0k", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scheme", token: "t0k", header: "Basic t0k", status: http.StatusUnauthorized},
		{name: "valid", token: "t0k", header: "Bearer t0k", status: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			RequireAdminToken(tt.token)(ok).ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestLimitBody(t *testing.T) {
	h := LimitBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRecover(t *testing.T) {
	h := Recover(slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_RoutesAndGuards(t *testing.T) {
	router := NewRouter(RouterServices{
		Products:   &fakeProductUpdates{},
		Jobs:       stubJobs{},
		AdminToken: "t0k",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhooks/products/update", `{"id":9}`, ""))
	assert.Equal(t, http.StatusOK, w.Code)

	// Topics without a processor are not routed.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhooks/collections/update", `{"id":9}`, ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
