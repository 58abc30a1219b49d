package handoff

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Article is one knowledge-base entry.
type Article struct {
	ID       string   `yaml:"id"`
	TenantID string   `yaml:"tenantId,omitempty"`
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
	Answer   string   `yaml:"answer"`
}

// Match is an article scored against a query, in [0, 1].
type Match struct {
	Article *Article
	Score   float64
}

// KnowledgeBase finds articles relevant to a visitor message.
type KnowledgeBase interface {
	Search(ctx context.Context, tenantID, query string) ([]Match, error)
}

type knowledgeFile struct {
	Articles []*Article `yaml:"articles"`
}

// StaticKnowledgeBase is an immutable article set loaded from YAML.
// Articles without a tenant id are shared by all tenants.
type StaticKnowledgeBase struct {
	articles []*Article
}

// LoadKnowledgeBase reads a YAML article file.
func LoadKnowledgeBase(path string) (*StaticKnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase decodes a YAML document with a top-level articles list.
func ParseKnowledgeBase(data []byte) (*StaticKnowledgeBase, error) {
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}
	for i, a := range file.Articles {
		if a == nil || strings.TrimSpace(a.Answer) == "" {
			return nil, fmt.Errorf("knowledge base article %d has no answer", i)
		}
		if len(a.Keywords) == 0 {
			return nil, fmt.Errorf("knowledge base article %q has no keywords", a.ID)
		}
		for j, k := range a.Keywords {
			a.Keywords[j] = strings.ToLower(strings.TrimSpace(k))
		}
	}
	return &StaticKnowledgeBase{articles: file.Articles}, nil
}

// Len returns the number of loaded articles.
func (kb *StaticKnowledgeBase) Len() int {
	return len(kb.articles)
}

// Search scores each article by the share of its keywords found in the
// query and returns the non-zero matches, best first.
func (kb *StaticKnowledgeBase) Search(_ context.Context, tenantID, query string) ([]Match, error) {
	tokens := tokenize(query)
	lower := strings.ToLower(query)

	matches := make([]Match, 0)
	for _, a := range kb.articles {
		if a.TenantID != "" && a.TenantID != tenantID {
			continue
		}
		hit := 0
		for _, k := range a.Keywords {
			// Multi-word keywords match as phrases.
			if strings.Contains(k, " ") {
				if strings.Contains(lower, k) {
					hit++
				}
			} else if tokens[k] {
				hit++
			}
		}
		if hit > 0 {
			matches = append(matches, Match{Article: a, Score: float64(hit) / float64(len(a.Keywords))})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}
