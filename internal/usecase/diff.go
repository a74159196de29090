package usecase

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Snapshot is the live state a bundle is compared against. All maps are
// keyed by domain.Key, so several live entries may share one key.
type Snapshot struct {
	// Online holds the published records of each folded slug, ordered by
	// article id.
	Online map[string][]domain.ArticleRecord
	Drafts map[string]domain.ArticleRecord
	// ProductionKeys maps folded basenames to the sorted object keys outside
	// the draft prefix carrying them.
	ProductionKeys map[string][]string
}

// TakeSnapshot loads published articles, the drafts of every incoming slug and
// the production object keys.
func TakeSnapshot(ctx context.Context, articles ports.ArticleStore, objects ports.ObjectStore, draftPrefix string, slugs []string, limit int) (Snapshot, error) {
	snap := Snapshot{
		Online:         map[string][]domain.ArticleRecord{},
		Drafts:         map[string]domain.ArticleRecord{},
		ProductionKeys: map[string][]string{},
	}

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex

	g.Go(func() error {
		published, err := articles.ListPublished(ctx)
		if err != nil {
			return fmt.Errorf("list published articles: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, rec := range published {
			key := domain.Key(rec.Slug)
			snap.Online[key] = append(snap.Online[key], rec)
		}
		for _, recs := range snap.Online {
			slices.SortFunc(recs, func(a, b domain.ArticleRecord) int {
				return cmp.Compare(a.ArticleID, b.ArticleID)
			})
		}
		return nil
	})

	g.Go(func() error {
		keys, err := objects.ListKeys(ctx, draftPrefix)
		if err != nil {
			return fmt.Errorf("list production objects: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, key := range keys {
			base := domain.Key(path.Base(key))
			snap.ProductionKeys[base] = append(snap.ProductionKeys[base], key)
		}
		for _, objectKeys := range snap.ProductionKeys {
			slices.Sort(objectKeys)
		}
		return nil
	})

	for _, slug := range slugs {
		g.Go(func() error {
			draft, err := articles.QueryBySlug(ctx, slug, domain.PublishDraft)
			if err != nil {
				return fmt.Errorf("query draft %s: %w", slug, err)
			}
			if draft == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			snap.Drafts[domain.Key(slug)] = *draft
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ArticleAction is the article store operation a decision needs.
type ArticleAction string

const (
	ActionCreateDraft   ArticleAction = "create_draft"
	ActionUpdateDraft   ArticleAction = "update_draft"
	ActionCopyAndUpdate ArticleAction = "copy_and_update"
	ActionArchive       ArticleAction = "archive"
)

// Incoming pairs a document with its fields rendered against production URLs,
// which is what an online record would contain if the document were live.
type Incoming struct {
	Document   content.Document
	Production domain.ArticleFields
}

// IncomingImage is one distinct image basename of the bundle.
type IncomingImage struct {
	Key  string
	Name string
}

// ArticleDecision is the outcome of classifying one slug.
type ArticleDecision struct {
	Key      string
	Slug     string
	Status   domain.ChangeStatus
	Action   ArticleAction
	Document *content.Document
	Draft    *domain.ArticleRecord
	Online   *domain.ArticleRecord
}

// ImageDecision is the outcome of classifying one image basename.
type ImageDecision struct {
	Key      string
	Filename string
	Status   domain.ChangeStatus
}

// Plan is the full set of decisions for one bundle, ordered by key.
type Plan struct {
	Articles []ArticleDecision
	Images   []ImageDecision
}

// Empty reports a bundle that would change nothing.
func (p Plan) Empty() bool {
	return len(p.Articles) == 0 && len(p.Images) == 0
}

// Count returns the number of decisions per status.
func (p Plan) Count() map[domain.ChangeStatus]int {
	counts := map[domain.ChangeStatus]int{}
	for _, a := range p.Articles {
		counts[a.Status]++
	}
	for _, i := range p.Images {
		counts[i.Status]++
	}
	return counts
}

// Classify compares a bundle against live state. It performs no I/O.
func Classify(articles []Incoming, images []IncomingImage, snap Snapshot) Plan {
	var plan Plan
	seen := map[string]struct{}{}

	for _, in := range articles {
		doc := in.Document
		key := doc.Key()
		seen[key] = struct{}{}

		online, others, hasOnline := pickOnline(snap.Online[key], doc.Slug)
		for _, other := range others {
			plan.Articles = append(plan.Articles, deletedArticle(key, other))
		}

		decision := ArticleDecision{Key: key, Slug: doc.Slug, Document: &doc}
		draft, hasDraft := snap.Drafts[key]
		if hasDraft {
			decision.Draft = &draft
		}
		if hasOnline {
			decision.Online = &online
		}

		switch {
		case hasDraft && hasOnline:
			decision.Status, decision.Action = domain.ChangeChanged, ActionUpdateDraft
		case hasDraft:
			decision.Status, decision.Action = domain.ChangeNew, ActionUpdateDraft
		case hasOnline && online.SameContent(in.Production):
			continue
		case hasOnline:
			decision.Status, decision.Action = domain.ChangeChanged, ActionCopyAndUpdate
		default:
			decision.Status, decision.Action = domain.ChangeNew, ActionCreateDraft
		}
		plan.Articles = append(plan.Articles, decision)
	}

	for key, records := range snap.Online {
		if _, ok := seen[key]; ok {
			continue
		}
		for _, online := range records {
			plan.Articles = append(plan.Articles, deletedArticle(key, online))
		}
	}

	incoming := map[string]struct{}{}
	for _, img := range images {
		incoming[img.Key] = struct{}{}
		// links are rendered from the bundle's basename, so that is the key
		// written; live twins under another case or directory go away
		decision := ImageDecision{Key: img.Key, Filename: img.Name, Status: domain.ChangeNew}
		for _, objectKey := range snap.ProductionKeys[img.Key] {
			decision.Status = domain.ChangeChanged
			if objectKey != img.Name {
				plan.Images = append(plan.Images, ImageDecision{Key: img.Key, Filename: objectKey, Status: domain.ChangeDeleted})
			}
		}
		plan.Images = append(plan.Images, decision)
	}
	for key, objectKeys := range snap.ProductionKeys {
		if _, ok := incoming[key]; ok {
			continue
		}
		for _, objectKey := range objectKeys {
			plan.Images = append(plan.Images, ImageDecision{Key: key, Filename: objectKey, Status: domain.ChangeDeleted})
		}
	}

	slices.SortFunc(plan.Articles, func(a, b ArticleDecision) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.Slug, b.Slug),
			cmp.Compare(onlineID(a), onlineID(b)),
		)
	})
	slices.SortFunc(plan.Images, func(a, b ImageDecision) int {
		return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Filename, b.Filename))
	})
	return plan
}

// pickOnline returns the published record a document with slug replaces: the
// exact slug match if there is one, otherwise the first. The rest are returned
// separately.
func pickOnline(records []domain.ArticleRecord, slug string) (domain.ArticleRecord, []domain.ArticleRecord, bool) {
	if len(records) == 0 {
		return domain.ArticleRecord{}, nil, false
	}
	i := slices.IndexFunc(records, func(r domain.ArticleRecord) bool { return r.Slug == slug })
	if i < 0 {
		i = 0
	}
	others := slices.Delete(slices.Clone(records), i, i+1)
	return records[i], others, true
}

func deletedArticle(key string, online domain.ArticleRecord) ArticleDecision {
	return ArticleDecision{
		Key:    key,
		Slug:   online.Slug,
		Status: domain.ChangeDeleted,
		Action: ActionArchive,
		Online: &online,
	}
}

func onlineID(d ArticleDecision) string {
	if d.Online == nil {
		return ""
	}
	return d.Online.ArticleID
}
