package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

const previewIDLength = 15

// PreviewURL builds the knowledge-base preview link of an article.
func PreviewURL(baseURL, articleID string, online bool) string {
	id := articleID
	if len(id) > previewIDLength {
		id = id[:previewIDLength]
	}
	url := baseURL + "/knowledge/publishing/articlePreview.apexp?id=" + id
	if online {
		url += "&pubstatus=o"
	}
	return url
}

// StagerDeps wires the stores the stager writes to.
type StagerDeps struct {
	Articles       ports.ArticleStore
	Objects        ports.ObjectStore
	Repository     ports.BundleRepository
	Linker         content.Linker
	PreviewBaseURL string
	Concurrency    int
	Logger         *slog.Logger
}

// Stager creates drafts and staged images for a classified bundle.
type Stager struct {
	articles       ports.ArticleStore
	objects        ports.ObjectStore
	repository     ports.BundleRepository
	linker         content.Linker
	previewBaseURL string
	concurrency    int
	logger         *slog.Logger
}

// NewStager constructs the draft stager.
func NewStager(deps StagerDeps) *Stager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{
		articles:       deps.Articles,
		objects:        deps.Objects,
		repository:     deps.Repository,
		linker:         deps.Linker,
		previewBaseURL: deps.PreviewBaseURL,
		concurrency:    deps.Concurrency,
		logger:         logger.With("component", "stager"),
	}
}

// Stage applies every decision of plan and records its change.
func (s *Stager) Stage(ctx context.Context, bundle domain.Bundle, plan Plan, result *content.Result) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}

	for _, decision := range plan.Articles {
		g.Go(func() error {
			return s.stageArticle(ctx, bundle, decision, result)
		})
	}
	for _, decision := range plan.Images {
		g.Go(func() error {
			return s.stageImage(ctx, bundle, decision, result)
		})
	}

	return g.Wait()
}

func (s *Stager) stageArticle(ctx context.Context, bundle domain.Bundle, decision ArticleDecision, result *content.Result) error {
	if err := decision.Status.Validate(); err != nil {
		return err
	}

	if decision.Status == domain.ChangeDeleted {
		online := decision.Online
		if online == nil {
			return fmt.Errorf("deleted article %s has no online version", decision.Slug)
		}
		_, err := s.repository.SaveArticleChange(ctx, domain.ArticleChange{
			BundleID:   bundle.ID,
			Slug:       online.Slug,
			ArticleID:  online.ArticleID,
			VersionID:  online.VersionID,
			Status:     domain.ChangeDeleted,
			Title:      online.Title,
			PreviewURL: PreviewURL(s.previewBaseURL, online.ArticleID, true),
		})
		if err != nil {
			return fmt.Errorf("record deleted article %s: %w", decision.Slug, err)
		}
		return nil
	}

	if decision.Document == nil {
		return fmt.Errorf("%s article %s has no document", decision.Status, decision.Slug)
	}
	fields, err := s.linker.Render(*decision.Document, content.Draft, result)
	if err != nil {
		return err
	}

	var versionID string
	switch decision.Action {
	case ActionCreateDraft:
		versionID, err = s.articles.CreateDraft(ctx, fields)
		if err != nil {
			return fmt.Errorf("create draft %s: %w", decision.Slug, err)
		}
	case ActionUpdateDraft:
		versionID = decision.Draft.VersionID
		if err = s.articles.UpdateDraft(ctx, versionID, fields); err != nil {
			return fmt.Errorf("update draft %s: %w", decision.Slug, err)
		}
	case ActionCopyAndUpdate:
		versionID, err = s.articles.CreateDraftCopy(ctx, decision.Online.ArticleID)
		if err != nil {
			return fmt.Errorf("copy published %s: %w", decision.Slug, err)
		}
		if err = s.articles.UpdateDraft(ctx, versionID, fields); err != nil {
			return fmt.Errorf("update draft copy %s: %w", decision.Slug, err)
		}
	default:
		return fmt.Errorf("article %s: unexpected action %q for %s", decision.Slug, decision.Action, decision.Status)
	}

	version, err := s.articles.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("resolve draft %s: %w", decision.Slug, err)
	}

	_, err = s.repository.SaveArticleChange(ctx, domain.ArticleChange{
		BundleID:   bundle.ID,
		Slug:       fields.Slug,
		ArticleID:  version.ArticleID,
		VersionID:  versionID,
		Status:     decision.Status,
		Title:      fields.Title,
		PreviewURL: PreviewURL(s.previewBaseURL, version.ArticleID, false),
	})
	if err != nil {
		return fmt.Errorf("record article %s: %w", decision.Slug, err)
	}

	s.logger.DebugContext(ctx, "staged article",
		slog.String("slug", fields.Slug),
		slog.String("status", string(decision.Status)),
		slog.String("action", string(decision.Action)),
	)
	return nil
}

func (s *Stager) stageImage(ctx context.Context, bundle domain.Bundle, decision ImageDecision, result *content.Result) error {
	switch decision.Status {
	case domain.ChangeNew, domain.ChangeChanged:
		src, ok := result.ImagePath(decision.Key)
		if !ok {
			return fmt.Errorf("image %s is not part of the bundle", decision.Filename)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read image %s: %w", decision.Filename, err)
		}
		key := s.linker.DraftPrefix + decision.Filename
		if err = s.objects.Put(ctx, key, data); err != nil {
			return fmt.Errorf("stage image %s: %w", decision.Filename, err)
		}
		s.logger.DebugContext(ctx, "staged image",
			slog.String("key", key),
			slog.String("size", humanize.Bytes(uint64(len(data)))),
		)
	case domain.ChangeDeleted:
	default:
		return fmt.Errorf("image %s: %w", decision.Filename, decision.Status.Validate())
	}

	if _, err := s.repository.SaveImageChange(ctx, domain.ImageChange{
		BundleID: bundle.ID,
		Filename: decision.Filename,
		Status:   decision.Status,
	}); err != nil {
		return fmt.Errorf("record image %s: %w", decision.Filename, err)
	}
	return nil
}
