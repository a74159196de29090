package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

func (r *Repository) CreateWebhook(ctx context.Context, webhook domain.Webhook) (domain.Webhook, error) {
	webhook.ReceivedAt = webhook.ReceivedAt.UTC()
	if webhook.Status == "" {
		webhook.Status = domain.WebhookPending
	}

	err := get(ctx, r.dbx, &webhook.ID, r.sq.Insert("webhooks").
		Columns("payload", "fingerprint", "status", "reason", "bundle_id", "received_at").
		Values(webhook.Payload, webhook.Fingerprint, string(webhook.Status), string(webhook.Reason), webhook.BundleID, webhook.ReceivedAt).
		Suffix("RETURNING id"),
	)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return webhook, nil
}

func (r *Repository) GetWebhook(ctx context.Context, id int64) (domain.Webhook, error) {
	var webhook domain.Webhook
	err := get(ctx, r.dbx, &webhook, r.sq.
		Select("id", "payload", "fingerprint", "status", "reason", "bundle_id", "received_at").
		From("webhooks").
		Where(sq.Eq{"id": id}),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Webhook{}, fmt.Errorf("webhook %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("get webhook %d: %w", id, err)
	}
	return webhook, nil
}

func (r *Repository) ResolveWebhook(ctx context.Context, id int64, status domain.WebhookStatus, reason domain.RejectReason, bundleID *int64) error {
	n, err := exec(ctx, r.dbx, r.sq.Update("webhooks").
		Set("status", string(status)).
		Set("reason", string(reason)).
		Set("bundle_id", bundleID).
		Where(sq.Eq{"id": id, "status": string(domain.WebhookPending)}),
	)
	if err != nil {
		return fmt.Errorf("resolve webhook %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	webhook, err := r.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("webhook %d is %s: %w", id, webhook.Status, domain.ErrStaleStatus)
}
