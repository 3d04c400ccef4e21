package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// StateListener receives every value change after it has been stored.
// Listeners run on the caller's goroutine and must not block.
type StateListener func(change StateChange)

// Registry provides object management with caching and thread safety.
// It wraps a Repository and keeps every object and state in memory.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	cache   map[string]*Object
	states  map[string]State
	cacheMu sync.RWMutex

	listeners   []StateListener
	listenersMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates a new object registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Object),
		states: make(map[string]State),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// OnStateChange registers a listener for value changes.
func (r *Registry) OnStateChange(listener StateListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, listener)
	r.listenersMu.Unlock()
}

// RefreshCache reloads all objects and states from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	objects, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading objects: %w", err)
	}
	states, err := r.repo.ListStates(ctx)
	if err != nil {
		return fmt.Errorf("loading states: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]*Object, len(objects))
	for i := range objects {
		r.cache[objects[i].ID] = objects[i].DeepCopy()
	}
	r.states = states
	r.cacheMu.Unlock()

	r.log().Info("object cache refreshed", "objects", len(objects), "states", len(states))
	return nil
}

// Exists reports whether an object with the given ID exists.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	r.cacheMu.RLock()
	_, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return true, nil
	}

	_, err := r.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get retrieves an object by ID.
// Returns ErrObjectNotFound if it does not exist. The returned object is a
// deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Object, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	obj, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = obj.DeepCopy()
	r.cacheMu.Unlock()
	return obj, nil
}

// Create validates and persists a new object.
func (r *Registry) Create(ctx context.Context, obj *Object) error {
	if err := ValidateObject(obj); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, obj); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[obj.ID] = obj.DeepCopy()
	r.cacheMu.Unlock()

	r.log().Info("object created", "id", obj.ID, "type", obj.Type)
	return nil
}

// Update validates and persists the descriptor of an existing object.
func (r *Registry) Update(ctx context.Context, obj *Object) error {
	if err := ValidateObject(obj); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, obj); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[obj.ID] = obj.DeepCopy()
	r.cacheMu.Unlock()

	r.log().Info("object updated", "id", obj.ID)
	return nil
}

// Delete removes an object and its state.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	delete(r.states, id)
	r.cacheMu.Unlock()

	r.log().Info("object deleted", "id", id)
	return nil
}

// SetValue stores the value of an object and notifies listeners.
//
// ack=true marks a value confirmed by the device; ack=false is a requested
// change that a bridge is expected to carry out.
func (r *Registry) SetValue(ctx context.Context, id string, value any, ack bool) error {
	value, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidObject, id, err)
	}

	state := State{Value: value, Ack: ack, Timestamp: time.Now().UTC()}
	if err := r.repo.SetState(ctx, id, state); err != nil {
		return err
	}

	r.cacheMu.Lock()
	change := StateChange{ID: id, State: state}
	if prev, ok := r.states[id]; ok {
		change.Previous = &prev
	}
	r.states[id] = state
	r.cacheMu.Unlock()

	r.log().Debug("object state updated", "id", id, "ack", ack)

	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()
	for _, l := range listeners {
		l(change)
	}
	return nil
}

// GetState returns the current value of an object.
// Returns ErrStateNotFound if no value was ever set.
func (r *Registry) GetState(_ context.Context, id string) (*State, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	state, ok := r.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &state, nil
}

// ListAll returns every object keyed by ID.
// The returned objects are deep copies.
func (r *Registry) ListAll(_ context.Context) (map[string]*Object, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	all := make(map[string]*Object, len(r.cache))
	for id, obj := range r.cache {
		all[id] = obj.DeepCopy()
	}
	return all, nil
}

// List returns the objects whose ID starts with prefix, ordered by ID.
// An empty prefix lists everything.
func (r *Registry) List(_ context.Context, prefix string) ([]Object, error) {
	r.cacheMu.RLock()
	objects := make([]Object, 0, len(r.cache))
	for id, obj := range r.cache {
		if strings.HasPrefix(id, prefix) {
			objects = append(objects, *obj.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

// Count returns the number of cached objects.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Objects    int `json:"objects"`
	Parameters int `json:"parameters"`
	Channels   int `json:"channels"`
	States     int `json:"states"`
	Unacked    int `json:"unacked"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{Objects: len(r.cache), States: len(r.states)}
	for _, obj := range r.cache {
		if obj.Type == TypeChannel {
			stats.Channels++
		}
		if obj.IsParameter() {
			stats.Parameters++
		}
	}
	for _, s := range r.states {
		if !s.Ack {
			stats.Unacked++
		}
	}
	return stats
}

// normalizeValue round-trips a value through JSON so the cache holds the
// same representation a reload from the database would produce.
func normalizeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
