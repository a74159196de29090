package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

const (
	publishCompleteEvent = "dita-ot-publish-complete"
	publishSuccess       = "success"
)

const webhookSchema = `{
  "type": "object",
  "required": ["event_id", "event_data"],
  "properties": {
    "event_id": {"type": "string"},
    "event_data": {
      "type": "object",
      "required": ["publish-result", "output-uuid"],
      "properties": {
        "publish-result": {"type": "string"},
        "output-uuid": {"type": "string", "minLength": 1}
      }
    }
  }
}`

type webhookPayload struct {
	EventID   string `json:"event_id"`
	EventData struct {
		PublishResult string `json:"publish-result"`
		OutputUUID    string `json:"output-uuid"`
	} `json:"event_data"`
}

// Fingerprint identifies a payload for log correlation and duplicate spotting.
func Fingerprint(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// WebhookDeps wires the webhook admission filter.
type WebhookDeps struct {
	Repository ports.BundleRepository
	Jobs       ports.JobQueue
	Clock      ports.Clock
	Logger     *slog.Logger
}

// WebhookFilter records inbound notifications and turns accepted ones into
// queued bundles.
type WebhookFilter struct {
	repository ports.BundleRepository
	jobs       ports.JobQueue
	clock      ports.Clock
	logger     *slog.Logger
	schema     *gojsonschema.Schema
}

// NewWebhookFilter compiles the payload schema.
func NewWebhookFilter(deps WebhookDeps) (*WebhookFilter, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookFilter{
		repository: deps.Repository,
		jobs:       deps.Jobs,
		clock:      clock,
		logger:     logger.With("component", "webhook"),
		schema:     schema,
	}, nil
}

// Receive persists a pending webhook and schedules its evaluation.
func (f *WebhookFilter) Receive(ctx context.Context, payload []byte) (domain.Webhook, error) {
	webhook, err := f.repository.CreateWebhook(ctx, domain.Webhook{
		Payload:     payload,
		Fingerprint: Fingerprint(payload),
		Status:      domain.WebhookPending,
		ReceivedAt:  f.clock(),
	})
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("store webhook: %w", err)
	}

	if err = f.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitWebhook, WebhookID: webhook.ID}); err != nil {
		return webhook, fmt.Errorf("enqueue webhook %d: %w", webhook.ID, err)
	}
	return webhook, nil
}

// Evaluate checks a payload without side effects. It returns the source id
// of an acceptable notification, or the reason it must be rejected.
func (f *WebhookFilter) Evaluate(payload []byte) (string, domain.RejectReason) {
	result, err := f.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil || !result.Valid() {
		return "", domain.RejectMalformed
	}

	var p webhookPayload
	if err = json.Unmarshal(payload, &p); err != nil {
		return "", domain.RejectMalformed
	}
	if p.EventID != publishCompleteEvent {
		return "", domain.RejectWrongEvent
	}
	if p.EventData.PublishResult != publishSuccess {
		return "", domain.RejectFailedResult
	}
	return p.EventData.OutputUUID, domain.RejectNone
}

// Process resolves a pending webhook. Already resolved webhooks are returned
// unchanged.
func (f *WebhookFilter) Process(ctx context.Context, id int64) (domain.Webhook, error) {
	webhook, err := f.repository.GetWebhook(ctx, id)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("load webhook %d: %w", id, err)
	}
	if webhook.Status != domain.WebhookPending {
		return webhook, nil
	}

	sourceID, reason := f.Evaluate(webhook.Payload)
	if reason != domain.RejectNone {
		return f.reject(ctx, webhook, reason)
	}

	bundle, err := f.repository.AdmitSource(ctx, sourceID, f.clock())
	if errors.Is(err, domain.ErrInFlight) {
		return f.reject(ctx, webhook, domain.RejectInFlight)
	}
	if err != nil {
		return webhook, fmt.Errorf("admit %s: %w", sourceID, err)
	}

	if err = f.repository.ResolveWebhook(ctx, webhook.ID, domain.WebhookAccepted, domain.RejectNone, &bundle.ID); err != nil {
		return webhook, fmt.Errorf("accept webhook %d: %w", webhook.ID, err)
	}
	webhook.Status, webhook.BundleID = domain.WebhookAccepted, &bundle.ID

	f.logger.InfoContext(ctx, "webhook accepted",
		slog.Int64("webhook_id", webhook.ID),
		slog.String("fingerprint", webhook.Fingerprint),
		slog.Int64("bundle_id", bundle.ID),
		slog.String("source_id", sourceID),
	)

	if err = f.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		return webhook, fmt.Errorf("trigger admission: %w", err)
	}
	return webhook, nil
}

func (f *WebhookFilter) reject(ctx context.Context, webhook domain.Webhook, reason domain.RejectReason) (domain.Webhook, error) {
	if err := f.repository.ResolveWebhook(ctx, webhook.ID, domain.WebhookRejected, reason, nil); err != nil {
		return webhook, fmt.Errorf("reject webhook %d: %w", webhook.ID, err)
	}
	webhook.Status, webhook.Reason = domain.WebhookRejected, reason

	f.logger.InfoContext(ctx, "webhook rejected",
		slog.Int64("webhook_id", webhook.ID),
		slog.String("fingerprint", webhook.Fingerprint),
		slog.String("reason", string(reason)),
	)
	return webhook, nil
}
