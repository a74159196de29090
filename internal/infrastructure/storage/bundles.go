package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

var bundleColumns = []string{"id", "source_id", "status", "error", "queued_at", "processed_at", "published_at"}

func statusList(statuses ...domain.BundleStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var (
	activeStatuses   = statusList(domain.ActiveStatuses...)
	terminalStatuses = statusList(domain.BundlePublished, domain.BundleError)
)

// activeSlot is the value of the unique active_slot column for a status.
func activeSlot(status domain.BundleStatus) any {
	if status.Active() {
		return 1
	}
	return nil
}

func (r *Repository) selectBundles() sq.SelectBuilder {
	return r.sq.Select(bundleColumns...).From("bundles")
}

func (r *Repository) getBundle(ctx context.Context, q sqlx.QueryerContext, what string, query sq.SelectBuilder) (domain.Bundle, error) {
	var b domain.Bundle
	if err := get(ctx, q, &b, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Bundle{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		}
		return domain.Bundle{}, fmt.Errorf("get %s: %w", what, err)
	}
	return b, nil
}

func (r *Repository) GetBundle(ctx context.Context, id int64) (domain.Bundle, error) {
	return r.getBundle(ctx, r.dbx, fmt.Sprintf("bundle %d", id), r.selectBundles().Where(sq.Eq{"id": id}))
}

func (r *Repository) GetBundleBySource(ctx context.Context, sourceID string) (domain.Bundle, error) {
	return r.getBundle(ctx, r.dbx, "bundle for source "+sourceID, r.selectBundles().Where(sq.Eq{"source_id": sourceID}))
}

func (r *Repository) ListBundles(ctx context.Context, limit int) ([]domain.Bundle, error) {
	query := r.selectBundles().OrderBy("id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	bundles := []domain.Bundle{}
	if err := selectAll(ctx, r.dbx, &bundles, query); err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	return bundles, nil
}

func (r *Repository) ActiveBundle(ctx context.Context) (domain.Bundle, error) {
	return r.getBundle(ctx, r.dbx, "active bundle", r.selectBundles().Where(sq.Eq{"status": activeStatuses}).Limit(1))
}

func (r *Repository) AdmitSource(ctx context.Context, sourceID string, now time.Time) (domain.Bundle, error) {
	now = now.UTC()

	var admitted domain.Bundle
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := r.getBundle(ctx, tx, "bundle for source "+sourceID, r.selectBundles().Where(sq.Eq{"source_id": sourceID}))
		if errors.Is(err, domain.ErrNotFound) {
			var id int64
			err = get(ctx, tx, &id, r.sq.Insert("bundles").
				Columns("source_id", "status", "error", "queued_at").
				Values(sourceID, string(domain.BundleQueued), "", now).
				Suffix("RETURNING id"),
			)
			if isUniqueViolation(err) {
				return fmt.Errorf("bundle for source %s was admitted concurrently: %w", sourceID, domain.ErrInFlight)
			}
			if err != nil {
				return fmt.Errorf("insert bundle: %w", err)
			}
			admitted = domain.Bundle{ID: id, SourceID: sourceID, Status: domain.BundleQueued, QueuedAt: &now}
			return nil
		}
		if err != nil {
			return err
		}

		if !existing.Status.Terminal() {
			return fmt.Errorf("%s is %s: %w", existing, existing.Status, domain.ErrInFlight)
		}

		n, err := exec(ctx, tx, r.sq.Update("bundles").
			Set("status", string(domain.BundleQueued)).
			Set("error", "").
			Set("queued_at", now).
			Set("processed_at", nil).
			Set("published_at", nil).
			Set("active_slot", nil).
			Where(sq.Eq{"id": existing.ID, "status": terminalStatuses}),
		)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", existing, err)
		}
		if n == 0 {
			return fmt.Errorf("%s changed concurrently: %w", existing, domain.ErrInFlight)
		}

		if _, err = exec(ctx, tx, r.sq.Delete("article_changes").Where(sq.Eq{"bundle_id": existing.ID})); err != nil {
			return fmt.Errorf("clear article changes of %s: %w", existing, err)
		}
		if _, err = exec(ctx, tx, r.sq.Delete("image_changes").Where(sq.Eq{"bundle_id": existing.ID})); err != nil {
			return fmt.Errorf("clear image changes of %s: %w", existing, err)
		}

		existing.Status, existing.Error = domain.BundleQueued, ""
		existing.QueuedAt, existing.ProcessedAt, existing.PublishedAt = &now, nil, nil
		admitted = existing
		return nil
	})
	if err != nil {
		return domain.Bundle{}, err
	}
	return admitted, nil
}

func (r *Repository) ClaimNextQueued(ctx context.Context, _ time.Time) (domain.Bundle, error) {
	var claimed domain.Bundle
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var active int
		if err := get(ctx, tx, &active, r.sq.Select("COUNT(*)").From("bundles").Where(sq.Eq{"status": activeStatuses})); err != nil {
			return fmt.Errorf("count active bundles: %w", err)
		}
		if active > 0 {
			return domain.ErrAdmissionConflict
		}

		next, err := r.getBundle(ctx, tx, "queued bundle", r.selectBundles().
			Where(sq.Eq{"status": string(domain.BundleQueued)}).
			OrderBy("queued_at", "id").
			Limit(1),
		)
		if err != nil {
			return err
		}

		n, err := exec(ctx, tx, r.sq.Update("bundles").
			Set("status", string(domain.BundleProcessing)).
			Set("error", "").
			Set("active_slot", 1).
			Where(sq.Eq{"id": next.ID, "status": string(domain.BundleQueued)}),
		)
		if isUniqueViolation(err) {
			return domain.ErrAdmissionConflict
		}
		if err != nil {
			return fmt.Errorf("claim %s: %w", next, err)
		}
		if n == 0 {
			return domain.ErrAdmissionConflict
		}

		next.Status, next.Error = domain.BundleProcessing, ""
		claimed = next
		return nil
	})
	if err != nil {
		return domain.Bundle{}, err
	}
	return claimed, nil
}

func (r *Repository) Transition(ctx context.Context, id int64, from, to domain.BundleStatus, now time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}
	now = now.UTC()

	update := r.sq.Update("bundles").
		Set("status", string(to)).
		Set("active_slot", activeSlot(to)).
		Where(sq.Eq{"id": id, "status": string(from)})
	switch to {
	case domain.BundleQueued:
		update = update.Set("queued_at", now)
	case domain.BundleDraft:
		update = update.Set("processed_at", now)
	case domain.BundlePublished:
		update = update.Set("published_at", now)
	}

	n, err := exec(ctx, r.dbx, update)
	if isUniqueViolation(err) {
		return domain.ErrAdmissionConflict
	}
	if err != nil {
		return fmt.Errorf("transition bundle %d to %s: %w", id, to, err)
	}
	if n == 0 {
		return r.staleStatus(ctx, id, from)
	}
	return nil
}

func (r *Repository) Fail(ctx context.Context, id int64, from []domain.BundleStatus, message string, _ time.Time) error {
	var allowed []string
	for _, status := range from {
		if domain.CanTransition(status, domain.BundleError) {
			allowed = append(allowed, string(status))
		}
	}
	if len(allowed) == 0 {
		return fmt.Errorf("none of %v can move to %s", from, domain.BundleError)
	}

	n, err := exec(ctx, r.dbx, r.sq.Update("bundles").
		Set("status", string(domain.BundleError)).
		Set("error", message).
		Set("active_slot", nil).
		Where(sq.Eq{"id": id, "status": allowed}),
	)
	if err != nil {
		return fmt.Errorf("fail bundle %d: %w", id, err)
	}
	if n == 0 {
		return r.staleStatus(ctx, id, from...)
	}
	return nil
}

// staleStatus explains why a conditional update matched no row.
func (r *Repository) staleStatus(ctx context.Context, id int64, expected ...domain.BundleStatus) error {
	b, err := r.GetBundle(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s is %s, expected %v: %w", b, b.Status, expected, domain.ErrStaleStatus)
}
