package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/notemill/notemill/internal/filter"
	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/source"
	"github.com/notemill/notemill/internal/watch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Sibling orderings for output traversal.
const (
	OrderTitle     = "title"
	OrderInsertion = "insertion"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Sources []SourceConfig    `yaml:"sources"`
	Output  OutputConfig      `yaml:"output"`
	Filter  FilterConfig      `yaml:"filter"`
	Index   IndexConfig       `yaml:"index"`
	Serve   ServeConfig       `yaml:"serve"`
	Watch   WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration. An empty source list is legal here:
// serve and mcp operate on an already-converted vault, and convert rejects
// it at run time.
func (c *Config) Validate() error {
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	if err := c.Output.Validate(); err != nil {
		return err
	}
	if err := c.Serve.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// SourceConfig names one input to convert: a registered source format and
// the file or directory its adapter reads.
type SourceConfig struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

// Validate validates one source entry against the adapter registry.
func (c *SourceConfig) Validate() error {
	formats := source.Formats()
	known := make([]any, len(formats))
	for i, f := range formats {
		known[i] = f
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.In(known...)),
		validation.Field(&c.Path, validation.Required),
	)
}

// OutputConfig describes the vault a conversion run materializes.
type OutputConfig struct {
	Dir             string `yaml:"dir"`
	Flavor          string `yaml:"flavor"`
	Naming          string `yaml:"naming"`
	Platform        string `yaml:"platform"`
	Order           string `yaml:"order"`
	ResourceDir     string `yaml:"resource_dir"`
	IncludeSourceID bool   `yaml:"include_source_id"`
}

// Validate validates the output configuration. Empty enum values are legal
// and resolve to their defaults downstream.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Flavor, validation.In("obsidian", "yaml", "toml", "none")),
		validation.Field(&c.Naming, validation.In("preserve", "slug")),
		validation.Field(&c.Platform, validation.In("auto", "posix", "windows")),
		validation.Field(&c.Order, validation.In(OrderTitle, OrderInsertion)),
	)
}

// Comparator returns the sibling ordering the config selects.
func (c *OutputConfig) Comparator() imf.Comparator {
	if c.Order == OrderInsertion {
		return imf.ByInsertion()
	}
	return imf.ByTitle()
}

// FilterConfig selects which notes survive conversion.
type FilterConfig struct {
	IncludeTitles      []string `yaml:"include_titles"`
	ExcludeTitles      []string `yaml:"exclude_titles"`
	IncludeTags        []string `yaml:"include_tags"`
	ExcludeTags        []string `yaml:"exclude_tags"`
	KeepEmptyNotebooks bool     `yaml:"keep_empty_notebooks"`
}

// Predicates maps the config onto the filter package's predicate set. Glob
// patterns are validated when the filter is compiled.
func (c *FilterConfig) Predicates() filter.Predicates {
	return filter.Predicates{
		IncludeTitles:      c.IncludeTitles,
		ExcludeTitles:      c.ExcludeTitles,
		IncludeTags:        c.IncludeTags,
		ExcludeTags:        c.ExcludeTags,
		KeepEmptyNotebooks: c.KeepEmptyNotebooks,
	}
}

// IndexConfig controls the post-conversion search index.
type IndexConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path overrides the database location; empty means
	// <output.dir>/_notemill/index.db.
	Path string `yaml:"path"`
}

// ServeConfig holds the preview server configuration.
type ServeConfig struct {
	Port int        `yaml:"port"`
	Auth AuthConfig `yaml:"auth"`
	// Watch re-converts on source changes while serving and streams
	// run events to connected clients.
	Watch bool `yaml:"watch"`
}

// Address returns the HTTP listen address.
func (c *ServeConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// AuthConfig holds preview server authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WatchConfig controls debouncing of re-conversion in watch mode.
type WatchConfig struct {
	// Debounce is a Go duration string: how long to wait after the last
	// source change before rebuilding.
	Debounce string `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	if c.Debounce == "" {
		return nil
	}
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return fmt.Errorf("watch: bad debounce %q: %w", c.Debounce, err)
	}
	if d <= 0 {
		return fmt.Errorf("watch: debounce must be positive, got %q", c.Debounce)
	}
	return nil
}

// Interval returns the parsed debounce window, falling back to the watcher
// default when unset.
func (c *WatchConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil || d <= 0 {
		return watch.DefaultDebounce
	}
	return d
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Output: OutputConfig{
			Dir:      "./vault",
			Flavor:   "obsidian",
			Naming:   "preserve",
			Platform: "auto",
			Order:    OrderTitle,
		},
		Serve: ServeConfig{
			Port: 8080,
			Auth: AuthConfig{Mode: AuthModeDisabled},
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}
