package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/config"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/memory"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
	"github.com/mrajeshsfdc/sfdoc/internal/usecase"
	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type apiHarness struct {
	repo   *memory.Repository
	jobs   *memory.JobRecorder
	server *httptest.Server
}

func newAPI(t *testing.T, cfg config.ServerConfig) *apiHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	h := &apiHarness{repo: memory.NewRepository(), jobs: &memory.JobRecorder{}}

	queue := usecase.NewQueue(usecase.QueueDeps{
		Repository:  h.repo,
		Objects:     memory.NewObjectStore(),
		Jobs:        h.jobs,
		DraftPrefix: "draft/",
		Clock:       clock,
		Logger:      logger,
	})
	webhooks, err := usecase.NewWebhookFilter(usecase.WebhookDeps{
		Repository: h.repo,
		Jobs:       h.jobs,
		Clock:      clock,
		Logger:     logger,
	})
	require.NoError(t, err)

	s := NewServer(Deps{
		Version:    ver.Version{Version: "v0.1.0"},
		Config:     cfg,
		Webhooks:   webhooks,
		Queue:      queue,
		Repository: h.repo,
		Jobs:       h.jobs,
		Logger:     logger,
	})
	h.server = httptest.NewServer(s.Routes())
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestPostWebhook(t *testing.T) {
	t.Parallel()
	h := newAPI(t, config.ServerConfig{MaxWebhookSize: 1024})

	resp, data := h.do(t, http.MethodPost, "/webhook", `{"event_id":"dita-ot-publish-complete"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decode[AcceptedResponse](t, data)
	require.NotNil(t, accepted.Webhook)
	assert.Equal(t, domain.WebhookPending, accepted.Webhook.Status)
	assert.Equal(t, []ports.Unit{{Kind: ports.UnitWebhook, WebhookID: accepted.Webhook.ID}}, h.jobs.Units())

	resp, data = h.do(t, http.MethodPost, "/webhook", strings.Repeat("x", 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "/webhook", decode[ErrorResponse](t, data).Path)
}

func TestBundleRoutes(t *testing.T) {
	t.Parallel()
	h := newAPI(t, config.ServerConfig{})
	ctx := context.Background()

	resp, data := h.do(t, http.MethodPost, "/bundles", `{"source_id":" src-1 "}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	bundle := *decode[AcceptedResponse](t, data).Bundle
	assert.Equal(t, "src-1", bundle.SourceID)
	assert.Equal(t, domain.BundleQueued, bundle.Status)

	resp, data = h.do(t, http.MethodPost, "/bundles", `{"source_id":"src-1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(data))

	resp, _ = h.do(t, http.MethodPost, "/bundles", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = h.do(t, http.MethodGet, "/bundles?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.Bundle](t, data), 1)

	resp, _ = h.do(t, http.MethodGet, "/bundles?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := h.repo.SaveArticleChange(ctx, domain.ArticleChange{BundleID: bundle.ID, Slug: "faq", Status: domain.ChangeNew, Title: "FAQ"})
	require.NoError(t, err)
	_, err = h.repo.SaveImageChange(ctx, domain.ImageChange{BundleID: bundle.ID, Filename: "logo.png", Status: domain.ChangeDeleted})
	require.NoError(t, err)

	resp, data = h.do(t, http.MethodGet, "/bundles/"+itoa(bundle.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[domain.Bundle](t, data)
	require.Len(t, detail.Articles, 1)
	assert.Equal(t, "faq", detail.Articles[0].Slug)
	require.Len(t, detail.Images, 1)
	assert.Equal(t, "logo.png", detail.Images[0].Filename)

	resp, _ = h.do(t, http.MethodGet, "/bundles/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/bundles/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublishRoute(t *testing.T) {
	t.Parallel()
	h := newAPI(t, config.ServerConfig{})
	ctx := context.Background()

	bundle, err := h.repo.AdmitSource(ctx, "src-1", testNow)
	require.NoError(t, err)

	resp, _ := h.do(t, http.MethodPost, "/bundles/"+itoa(bundle.ID)+"/publish", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = h.repo.ClaimNextQueued(ctx, testNow)
	require.NoError(t, err)
	require.NoError(t, h.repo.Transition(ctx, bundle.ID, domain.BundleProcessing, domain.BundleDraft, testNow))
	h.jobs.Drain()

	resp, _ = h.do(t, http.MethodPost, "/bundles/"+itoa(bundle.ID)+"/publish", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []ports.Unit{{Kind: ports.UnitPublish, BundleID: bundle.ID}}, h.jobs.Units())
}

func TestQueueAdmitRoute(t *testing.T) {
	t.Parallel()
	h := newAPI(t, config.ServerConfig{})

	resp, data := h.do(t, http.MethodPost, "/queue/admit", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, ports.UnitAdmit, decode[AcceptedResponse](t, data).Unit)
	assert.Equal(t, []ports.Unit{{Kind: ports.UnitAdmit}}, h.jobs.Units())
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	h := newAPI(t, config.ServerConfig{AdminToken: "s3cret"})

	resp, data := h.do(t, http.MethodGet, "/bundles", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrInvalidToken.Error(), decode[ErrorResponse](t, data).Message)

	resp, _ = h.do(t, http.MethodGet, "/bundles", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/bundles", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the authoring tool does not authenticate its webhook calls
	resp, _ = h.do(t, http.MethodPost, "/webhook", `{}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, data = h.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v0.1.0", decode[ver.Version](t, data).Version)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
