package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Logger defines the logging interface used by the Library and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Library provides config management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Library struct {
	repo    Repository
	cache   map[string]*Config // Cached configs by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewLibrary creates a new config library.
// The repository is used for persistence; the library adds caching.
func NewLibrary(repo Repository) *Library {
	return &Library{
		repo:   repo,
		cache:  make(map[string]*Config),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the library.
func (l *Library) SetLogger(logger Logger) {
	l.logger = logger
}

// Repository returns the underlying repository.
func (l *Library) Repository() Repository {
	return l.repo
}

// RefreshCache reloads all configs from the repository into the cache.
// This should be called on application startup.
func (l *Library) RefreshCache(ctx context.Context) error {
	configs, err := l.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading configs: %w", err)
	}

	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()

	l.cache = make(map[string]*Config, len(configs))
	for i := range configs {
		c := configs[i]
		l.cache[c.ID] = c.DeepCopy()
	}

	l.logger.Info("config cache refreshed", "count", len(configs))
	return nil
}

// Get retrieves a config by ID.
// The returned config is a deep copy; callers can safely modify it.
func (l *Library) Get(_ context.Context, id string) (*Config, error) {
	l.cacheMu.RLock()
	cached, ok := l.cache[id]
	l.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
}

// List retrieves all configs sorted by name.
func (l *Library) List(_ context.Context) []Config {
	return l.filter(func(*Config) bool { return true })
}

// ListByCategory retrieves all configs in a category.
func (l *Library) ListByCategory(_ context.Context, category Category) []Config {
	return l.filter(func(c *Config) bool { return c.Category == category })
}

// Search returns configs whose ID, name, description or tags contain query,
// case-insensitively. An empty query matches everything.
func (l *Library) Search(_ context.Context, query string) []Config {
	q := strings.ToLower(strings.TrimSpace(query))
	return l.filter(func(c *Config) bool {
		if q == "" {
			return true
		}
		if strings.Contains(strings.ToLower(c.ID), q) ||
			strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Description), q) {
			return true
		}
		for _, tag := range c.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
}

func (l *Library) filter(keep func(*Config) bool) []Config {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()

	configs := make([]Config, 0, len(l.cache))
	for _, c := range l.cache {
		if keep(c) {
			configs = append(configs, *c.DeepCopy())
		}
	}
	sortConfigs(configs)
	return configs
}

// sortConfigs sorts configs by name then ID, matching the DB query ordering.
func sortConfigs(configs []Config) {
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Name != configs[j].Name {
			return configs[i].Name < configs[j].Name
		}
		return configs[i].ID < configs[j].ID
	})
}

// Add validates, persists, and caches a new config. A missing ID is
// derived from the name.
func (l *Library) Add(ctx context.Context, cfg *Config) error {
	if cfg.ID == "" {
		cfg.ID = GenerateSlug(cfg.Name)
		if cfg.ID == "" {
			cfg.ID = GenerateID()
		}
	}
	if cfg.Category == "" {
		cfg.Category = CategoryCustom
	}

	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	l.cacheMu.RLock()
	_, exists := l.cache[cfg.ID]
	l.cacheMu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrConfigExists, cfg.ID)
	}

	if err := l.repo.Create(ctx, cfg); err != nil {
		return err
	}

	l.cacheMu.Lock()
	l.cache[cfg.ID] = cfg.DeepCopy()
	l.cacheMu.Unlock()

	l.logger.Info("config added", "id", cfg.ID, "name", cfg.Name)
	return nil
}

// Update validates, persists, and updates the cached config.
func (l *Library) Update(ctx context.Context, cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	l.cacheMu.RLock()
	if old, ok := l.cache[cfg.ID]; ok && cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = old.CreatedAt
	}
	l.cacheMu.RUnlock()

	if err := l.repo.Update(ctx, cfg); err != nil {
		return err
	}

	l.cacheMu.Lock()
	l.cache[cfg.ID] = cfg.DeepCopy()
	l.cacheMu.Unlock()

	l.logger.Info("config updated", "id", cfg.ID, "name", cfg.Name)
	return nil
}

// Remove deletes a config from persistence and cache.
func (l *Library) Remove(ctx context.Context, id string) error {
	if err := l.repo.Delete(ctx, id); err != nil {
		return err
	}

	l.cacheMu.Lock()
	delete(l.cache, id)
	l.cacheMu.Unlock()

	l.logger.Info("config removed", "id", id)
	return nil
}

// Count returns the number of cached configs.
func (l *Library) Count() int {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	return len(l.cache)
}

// Export renders the configs with the given IDs as an indented JSON array.
// No IDs exports the whole library.
func (l *Library) Export(ctx context.Context, ids ...string) ([]byte, error) {
	var configs []Config
	if len(ids) == 0 {
		configs = l.List(ctx)
	} else {
		for _, id := range ids {
			cfg, err := l.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			configs = append(configs, *cfg)
		}
	}
	if configs == nil {
		configs = []Config{}
	}
	return json.MarshalIndent(configs, "", "  ")
}

// ImportResult summarises an Import call.
type ImportResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Skipped []string `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ConfigEntry is one entry of a config file. Err is set when the entry
// could not be decoded; Config is then partial.
type ConfigEntry struct {
	Index  int
	Config Config
	Err    error
}

// ParseConfigEntries decodes a config file entry by entry. The file is JSON
// when it starts with '{' or '[' and YAML otherwise; either way it holds one
// config or a list of them.
//
// A list yields one ConfigEntry per element and a bad element does not
// affect the others. The returned error, wrapping ErrInvalidConfig, is for
// files that are not a config or list at all, and for a lone config that
// fails to decode.
func ParseConfigEntries(data []byte) ([]ConfigEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return parseJSONEntries(trimmed)
	}
	return parseYAMLEntries(trimmed)
}

func parseJSONEntries(data []byte) ([]ConfigEntry, error) {
	if data[0] == '{' {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return []ConfigEntry{{Config: cfg}}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	entries := make([]ConfigEntry, len(raws))
	for i, raw := range raws {
		entries[i].Index = i
		if err := json.Unmarshal(raw, &entries[i].Config); err != nil {
			entries[i].Err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return entries, nil
}

func parseYAMLEntries(data []byte) ([]ConfigEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.MappingNode:
		var cfg Config
		if err := root.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return []ConfigEntry{{Config: cfg}}, nil
	case yaml.SequenceNode:
		entries := make([]ConfigEntry, len(root.Content))
		for i, node := range root.Content {
			entries[i].Index = i
			if err := node.Decode(&entries[i].Config); err != nil {
				entries[i].Err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: line %d: expected a config or a list of configs", ErrInvalidConfig, root.Line)
	}
}

// ParseConfigs is ParseConfigEntries for callers that want all or nothing:
// it fails on the first entry that does not decode.
func ParseConfigs(data []byte) ([]Config, error) {
	entries, err := ParseConfigEntries(data)
	if err != nil {
		return nil, err
	}
	configs := make([]Config, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			return nil, fmt.Errorf("entry #%d: %w", e.Index, e.Err)
		}
		configs = append(configs, e.Config)
	}
	return configs, nil
}

// Import adds every config in data, JSON or YAML. Existing IDs are replaced
// when overwrite is set and skipped otherwise. Entries of a list that fail
// to decode or validate are reported in the result and do not stop the
// import.
func (l *Library) Import(ctx context.Context, data []byte, overwrite bool) (*ImportResult, error) {
	entries, err := ParseConfigEntries(data)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for i := range entries {
		cfg := &entries[i].Config
		if entries[i].Err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("#%d: %v", i, entries[i].Err))
			continue
		}
		err := l.Add(ctx, cfg)
		switch {
		case err == nil:
			result.Added = append(result.Added, cfg.ID)
		case errors.Is(err, ErrConfigExists) && overwrite:
			if uerr := l.Update(ctx, cfg); uerr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cfg.ID, uerr))
				continue
			}
			result.Updated = append(result.Updated, cfg.ID)
		case errors.Is(err, ErrConfigExists):
			result.Skipped = append(result.Skipped, cfg.ID)
		default:
			name := cfg.ID
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	l.logger.Info("configs imported",
		"added", len(result.Added),
		"updated", len(result.Updated),
		"skipped", len(result.Skipped),
		"errors", len(result.Errors),
	)
	return result, nil
}
