package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

func (r *Repository) SaveArticleChange(ctx context.Context, change domain.ArticleChange) (domain.ArticleChange, error) {
	if err := change.Status.Validate(); err != nil {
		return domain.ArticleChange{}, err
	}

	err := get(ctx, r.dbx, &change.ID, r.sq.Insert("article_changes").
		Columns("bundle_id", "slug", "article_id", "version_id", "status", "title", "preview_url").
		Values(change.BundleID, change.Slug, change.ArticleID, change.VersionID, string(change.Status), change.Title, change.PreviewURL).
		Suffix("RETURNING id"),
	)
	if isForeignKeyViolation(err) {
		return domain.ArticleChange{}, fmt.Errorf("bundle %d: %w", change.BundleID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ArticleChange{}, fmt.Errorf("insert article change %s: %w", change.Slug, err)
	}
	return change, nil
}

func (r *Repository) SaveImageChange(ctx context.Context, change domain.ImageChange) (domain.ImageChange, error) {
	if err := change.Status.Validate(); err != nil {
		return domain.ImageChange{}, err
	}

	err := get(ctx, r.dbx, &change.ID, r.sq.Insert("image_changes").
		Columns("bundle_id", "filename", "status").
		Values(change.BundleID, change.Filename, string(change.Status)).
		Suffix("RETURNING id"),
	)
	if isForeignKeyViolation(err) {
		return domain.ImageChange{}, fmt.Errorf("bundle %d: %w", change.BundleID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ImageChange{}, fmt.Errorf("insert image change %s: %w", change.Filename, err)
	}
	return change, nil
}

func (r *Repository) ListArticleChanges(ctx context.Context, bundleID int64) ([]domain.ArticleChange, error) {
	changes := []domain.ArticleChange{}
	err := selectAll(ctx, r.dbx, &changes, r.sq.
		Select("id", "bundle_id", "slug", "article_id", "version_id", "status", "title", "preview_url").
		From("article_changes").
		Where(sq.Eq{"bundle_id": bundleID}).
		OrderBy("id"),
	)
	if err != nil {
		return nil, fmt.Errorf("list article changes of bundle %d: %w", bundleID, err)
	}
	return changes, nil
}

func (r *Repository) ListImageChanges(ctx context.Context, bundleID int64) ([]domain.ImageChange, error) {
	changes := []domain.ImageChange{}
	err := selectAll(ctx, r.dbx, &changes, r.sq.
		Select("id", "bundle_id", "filename", "status").
		From("image_changes").
		Where(sq.Eq{"bundle_id": bundleID}).
		OrderBy("id"),
	)
	if err != nil {
		return nil, fmt.Errorf("list image changes of bundle %d: %w", bundleID, err)
	}
	return changes, nil
}
