// Package tagrules loads the category default-tag rules merged into every
// generated tag set. Default tags are unioned with AI-provided tags, never
// overwritten by them.
package tagrules

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules maps garment categories to their default tags.
type Rules struct {
	Defaults   []string            `yaml:"defaults"`
	Categories map[string][]string `yaml:"categories"`
}

// Load reads tag rules from a YAML file.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tagrules: read %s", path)
	}

	// The YAML has a top-level "tags" key.
	var wrapper struct {
		Tags Rules `yaml:"tags"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "tagrules: parse rules")
	}
	return &wrapper.Tags, nil
}

// Empty returns a rule set with no defaults, used when no rules file is
// configured.
func Empty() *Rules {
	return &Rules{}
}

// TagsFor returns the default tags for a garment type: the global
// defaults plus the category entry matched case-insensitively.
func (r *Rules) TagsFor(garmentType string) []string {
	out := make([]string, 0, len(r.Defaults))
	out = append(out, r.Defaults...)

	key := strings.ToLower(strings.TrimSpace(garmentType))
	for category, tags := range r.Categories {
		if strings.ToLower(category) == key {
			out = append(out, tags...)
			break
		}
	}
	return out
}

// Union merges default tags with generated tags, de-duplicating
// case-insensitively while preserving first-seen order and casing.
func Union(defaults, generated []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tag := range append(append([]string{}, defaults...), generated...) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
