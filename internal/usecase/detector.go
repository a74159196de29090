package usecase

import (
	"sort"
	"strings"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// Conflict is one identity claimed by more than one source path.
type Conflict struct {
	Key   string
	Paths []string
}

// ConflictReport lists every slug and image basename collision of a bundle.
type ConflictReport struct {
	Slugs  []Conflict
	Images []Conflict
}

// Empty reports whether the bundle is free of collisions.
func (r ConflictReport) Empty() bool {
	return len(r.Slugs) == 0 && len(r.Images) == 0
}

// Validation renders the report as the error recorded on the bundle.
func (r ConflictReport) Validation() *domain.ValidationError {
	if r.Empty() {
		return nil
	}

	var b strings.Builder
	writeConflicts(&b, "Found URL name duplicates:", r.Slugs)
	writeConflicts(&b, "Found image duplicates:", r.Images)
	return &domain.ValidationError{Message: strings.TrimRight(b.String(), "\n")}
}

func writeConflicts(b *strings.Builder, header string, conflicts []Conflict) {
	if len(conflicts) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(header)
	b.WriteString("\n")
	for _, c := range conflicts {
		b.WriteString(c.Key)
		b.WriteString("\n")
		for _, p := range c.Paths {
			b.WriteString("\t")
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
}

// Detect collects every collision in the slug and image maps. It always
// inspects the complete input.
func Detect(slugs, images map[string][]string) ConflictReport {
	return ConflictReport{
		Slugs:  collisions(slugs),
		Images: collisions(images),
	}
}

func collisions(m map[string][]string) []Conflict {
	var out []Conflict
	for key, paths := range m {
		if len(paths) < 2 {
			continue
		}
		sorted := append([]string(nil), paths...)
		sort.Strings(sorted)
		out = append(out, Conflict{Key: key, Paths: sorted})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}
