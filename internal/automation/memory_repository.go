package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a Repository held entirely in memory. It backs the
// CLI's one-shot runs and tests; the service uses SQLiteRepository.
type MemoryRepository struct {
	mu         sync.RWMutex
	configs    map[string]*Config
	executions map[string]*Execution
	order      []string // execution IDs in insertion order
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		configs:    make(map[string]*Config),
		executions: make(map[string]*Execution),
	}
}

// GetByID retrieves a config by ID.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, ErrConfigNotFound
	}
	return cfg.DeepCopy(), nil
}

// List returns all configs ordered by name.
func (r *MemoryRepository) List(_ context.Context) ([]Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, *cfg.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create stores a new config.
func (r *MemoryRepository) Create(_ context.Context, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConfigExists, cfg.ID)
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.configs[cfg.ID] = cfg.DeepCopy()
	return nil
}

// Update replaces an existing config.
func (r *MemoryRepository) Update(_ context.Context, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, exists := r.configs[cfg.ID]
	if !exists {
		return ErrConfigNotFound
	}
	cfg.CreatedAt = old.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	r.configs[cfg.ID] = cfg.DeepCopy()
	return nil
}

// Delete removes a config.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[id]; !exists {
		return ErrConfigNotFound
	}
	delete(r.configs, id)
	return nil
}

// CreateExecution records a new execution.
func (r *MemoryRepository) CreateExecution(_ context.Context, exec *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[exec.ID]; exists {
		return fmt.Errorf("execution %s already recorded", exec.ID)
	}
	r.executions[exec.ID] = exec.clone()
	r.order = append(r.order, exec.ID)
	return nil
}

// UpdateExecution replaces a recorded execution.
func (r *MemoryRepository) UpdateExecution(_ context.Context, exec *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[exec.ID]; !exists {
		return ErrExecutionNotFound
	}
	r.executions[exec.ID] = exec.clone()
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *MemoryRepository) GetExecution(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.clone(), nil
}

// ListExecutions returns recent executions, newest first.
func (r *MemoryRepository) ListExecutions(_ context.Context, configID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Execution
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		exec := r.executions[r.order[i]]
		if configID != "" && exec.ConfigID != configID {
			continue
		}
		out = append(out, *exec.clone())
	}
	return out, nil
}
