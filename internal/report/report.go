// Package report accumulates per-item results for one conversion run and
// serializes the machine-readable manifest. Nothing here is fatal; the run
// always completes and the summary says what happened.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/resolve"
)

// SourceError records a parser that failed to produce a sub-forest. Only
// that source is lost; the run continues with the rest.
type SourceError struct {
	Source string `json:"source"`
	Err    string `json:"error"`
}

// PathFailure records an entity that never received a legal output path.
type PathFailure struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Err   string `json:"error"`
}

// WriteFailure records one failed filesystem operation.
type WriteFailure struct {
	Path string `json:"path"`
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`
	Err  string `json:"error"`
}

// Counts summarizes how much of the model made it to disk. Links counts
// internal references carried by surviving notes; the gap to LinksResolved
// is the number of references degraded to plain text.
type Counts struct {
	Notebooks        int `json:"notebooks"`
	Notes            int `json:"notes"`
	Resources        int `json:"resources"`
	Links            int `json:"links"`
	NotesWritten     int `json:"notes_written"`
	ResourcesWritten int `json:"resources_written"`
	LinksResolved    int `json:"links_resolved"`
	NotesFiltered    int `json:"notes_filtered"`
}

// Summary is the aggregate result of one run.
type Summary struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Counts       Counts            `json:"counts"`
	SourceErrors []SourceError     `json:"source_errors,omitempty"`
	PathErrors   []PathFailure     `json:"path_errors,omitempty"`
	LinkFailures []resolve.Failure `json:"link_failures,omitempty"`
	WriteErrors  []WriteFailure    `json:"write_errors,omitempty"`
}

func New() *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

func (s *Summary) Finish() {
	s.FinishedAt = time.Now().UTC()
}

// AddPathErrors converts layout errors into report records.
func (s *Summary) AddPathErrors(errs []layout.PathError) {
	for _, e := range errs {
		s.PathErrors = append(s.PathErrors, PathFailure{
			ID:    e.ID,
			Title: e.Title,
			Err:   e.Err.Error(),
		})
	}
}

// Failures returns the total number of recorded failure events.
func (s *Summary) Failures() int {
	return len(s.SourceErrors) + len(s.PathErrors) + len(s.LinkFailures) + len(s.WriteErrors)
}

// Clean reports whether every item succeeded.
func (s *Summary) Clean() bool {
	return s.Failures() == 0
}

// Render formats the summary for terminal output.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished in %s\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "  notebooks: %d  notes: %d/%d written  resources: %d/%d written  links: %d/%d resolved\n",
		s.Counts.Notebooks,
		s.Counts.NotesWritten, s.Counts.Notes,
		s.Counts.ResourcesWritten, s.Counts.Resources,
		s.Counts.LinksResolved, s.Counts.Links)
	if s.Counts.NotesFiltered > 0 {
		fmt.Fprintf(&b, "  filtered out: %d notes\n", s.Counts.NotesFiltered)
	}
	if s.Clean() {
		b.WriteString("  no failures\n")
		return b.String()
	}
	for _, e := range s.SourceErrors {
		fmt.Fprintf(&b, "  source failed: %s: %s\n", e.Source, e.Err)
	}
	for _, e := range s.PathErrors {
		fmt.Fprintf(&b, "  path skipped: %q (%s): %s\n", e.Title, e.ID, e.Err)
	}
	for _, e := range s.LinkFailures {
		fmt.Fprintf(&b, "  link degraded: %s -> %s (%s)\n", e.NoteID, e.TargetID, e.Kind)
	}
	for _, e := range s.WriteErrors {
		fmt.Fprintf(&b, "  write failed: %s: %s\n", e.Path, e.Err)
	}
	return b.String()
}

// ManifestPath is where the manifest lives inside a vault.
const ManifestPath = layout.MetaDirName + "/manifest.json"

// Manifest is the machine-readable artifact a run leaves behind: the
// complete identifier->path maps plus every recorded failure.
type Manifest struct {
	RunID        string            `json:"run_id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Counts       Counts            `json:"counts"`
	Notebooks    map[string]string `json:"notebooks"`
	Notes        map[string]string `json:"notes"`
	Resources    map[string]string `json:"resources"`
	SourceErrors []SourceError     `json:"source_errors,omitempty"`
	PathErrors   []PathFailure     `json:"path_errors,omitempty"`
	LinkFailures []resolve.Failure `json:"link_failures,omitempty"`
	WriteErrors  []WriteFailure    `json:"write_errors,omitempty"`
}

// BuildManifest snapshots a finished run. Map key order is left to the JSON
// encoder, which sorts; output is byte-stable for identical runs.
func BuildManifest(s *Summary, plan *layout.Plan) *Manifest {
	return &Manifest{
		RunID:        s.RunID,
		GeneratedAt:  s.FinishedAt,
		Counts:       s.Counts,
		Notebooks:    plan.Notebooks,
		Notes:        plan.Notes,
		Resources:    plan.Resources,
		SourceErrors: s.SourceErrors,
		PathErrors:   s.PathErrors,
		LinkFailures: s.LinkFailures,
		WriteErrors:  s.WriteErrors,
	}
}

func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("report: decode manifest: %w", err)
	}
	return &m, nil
}

// PathForSource looks a source-native identifier up in the manifest,
// checking notes first, then notebooks, then resource hashes.
func (m *Manifest) PathForSource(id string) (string, bool) {
	if p, ok := m.Notes[id]; ok {
		return p, true
	}
	if p, ok := m.Notebooks[id]; ok {
		return p, true
	}
	if p, ok := m.Resources[id]; ok {
		return p, true
	}
	return "", false
}
