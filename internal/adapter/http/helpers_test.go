package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/adapter/storage/jsonfile"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port/mocks"
	"github.com/bnema/clipper/internal/service"
)

const (
	ownerID       = "user-1"
	webhookSecret = "hook-secret"
)

type apiFixture struct {
	t       *testing.T
	srv     *Server
	store   *jsonfile.Store
	storage *mocks.MockObjectStorage
	events  *service.EventBus
	auth    *service.AuthService
	jobs    *service.JobService
	token   string
}

func newAPIFixture(t *testing.T, cfg ServerConfig) *apiFixture {
	t.Helper()
	store, err := jsonfile.NewStore(t.TempDir())
	require.NoError(t, err)

	storage := &mocks.MockObjectStorage{}
	storage.ExpectPresignAny()
	events := service.NewEventBus()
	auth := service.NewAuthService("test-auth-secret")

	jobs := service.NewJobService(store, storage, nil, events, nil, service.JobSettings{WebhookSecret: cfg.WebhookSecret})
	uploads := service.NewUploadService(store, storage, events, nil, service.UploadSettings{})
	locks := service.NewLockManager(store, events, nil, 0)

	token, err := auth.GenerateToken(ownerID)
	require.NoError(t, err)

	return &apiFixture{
		t:       t,
		srv:     NewServer(auth, jobs, uploads, locks, events, cfg),
		store:   store,
		storage: storage,
		events:  events,
		auth:    auth,
		jobs:    jobs,
		token:   token,
	}
}

func (f *apiFixture) tokenFor(userID string) string {
	f.t.Helper()
	token, err := f.auth.GenerateToken(userID)
	require.NoError(f.t, err)
	return token
}

// do sends body as-is when it is a string, JSON-encoded otherwise.
func (f *apiFixture) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createJob(body map[string]any) *domain.Job {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/jobs", f.token, body)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Job](f.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return &v
}
