package writer

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/notemill/notemill/internal/imf"
)

// Flavor selects the front-matter convention written ahead of each note body.
type Flavor string

const (
	FlavorObsidian Flavor = "obsidian"
	FlavorYAML     Flavor = "yaml"
	FlavorTOML     Flavor = "toml"
	FlavorNone     Flavor = "none"
)

func ParseFlavor(s string) (Flavor, error) {
	switch Flavor(strings.TrimSpace(strings.ToLower(s))) {
	case "", FlavorObsidian:
		return FlavorObsidian, nil
	case FlavorYAML:
		return FlavorYAML, nil
	case FlavorTOML:
		return FlavorTOML, nil
	case FlavorNone:
		return FlavorNone, nil
	}
	return "", fmt.Errorf("writer: unknown front-matter flavor %q", s)
}

// obsidianMeta is the full key set. Field order is emission order.
type obsidianMeta struct {
	Title    string   `yaml:"title"`
	SourceID string   `yaml:"source_id,omitempty"`
	Created  string   `yaml:"created,omitempty"`
	Updated  string   `yaml:"updated,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	Aliases  []string `yaml:"aliases,omitempty"`
}

// yamlMeta is the minimal convention-neutral key set.
type yamlMeta struct {
	Title   string   `yaml:"title"`
	Created string   `yaml:"created,omitempty"`
	Updated string   `yaml:"updated,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
}

// tomlMeta follows the Hugo naming convention inside +++ fences.
type tomlMeta struct {
	Title   string   `toml:"title"`
	Date    string   `toml:"date,omitempty"`
	Lastmod string   `toml:"lastmod,omitempty"`
	Tags    []string `toml:"tags,omitempty"`
}

// renderFrontMatter builds the leading metadata block for one note. The
// assigned path feeds the alias logic: when collision suffixes or
// sanitization changed the visible name, the original title becomes an
// alias so title search still works.
func renderFrontMatter(flavor Flavor, n *imf.Note, assignedPath string, includeSourceID bool) ([]byte, error) {
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	tags := append([]string(nil), n.Tags...)
	sort.Strings(tags)

	switch flavor {
	case FlavorNone:
		return nil, nil

	case FlavorTOML:
		meta := tomlMeta{
			Title:   n.Title,
			Date:    stamp(n.Created),
			Lastmod: stamp(n.Updated),
			Tags:    tags,
		}
		var buf bytes.Buffer
		buf.WriteString("+++\n")
		if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
			return nil, fmt.Errorf("writer: encode toml front matter: %w", err)
		}
		buf.WriteString("+++\n\n")
		return buf.Bytes(), nil

	case FlavorYAML:
		return yamlBlock(yamlMeta{
			Title:   n.Title,
			Created: stamp(n.Created),
			Updated: stamp(n.Updated),
			Tags:    tags,
		})

	default: // obsidian
		meta := obsidianMeta{
			Title:   n.Title,
			Created: stamp(n.Created),
			Updated: stamp(n.Updated),
			Tags:    tags,
		}
		if includeSourceID {
			meta.SourceID = n.ID
		}
		if alias := titleAlias(n.Title, assignedPath); alias != "" {
			meta.Aliases = []string{alias}
		}
		return yamlBlock(meta)
	}
}

func yamlBlock(meta any) ([]byte, error) {
	body, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("writer: encode yaml front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(body)
	buf.WriteString("---\n\n")
	return buf.Bytes(), nil
}

// titleAlias returns the original title when the on-disk name no longer
// matches it, "" otherwise.
func titleAlias(title, assignedPath string) string {
	base := strings.TrimSuffix(path.Base(assignedPath), ".md")
	if base == title || strings.TrimSpace(title) == "" {
		return ""
	}
	return title
}
