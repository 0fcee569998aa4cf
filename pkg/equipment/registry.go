package equipment

import (
	"fmt"
	"sync"
)

// Registry provides thread-safe registration and lookup of equipment
// records by alias. Records are immutable once registered; reconfiguring
// a connection means registering a new record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register adds a record under the given alias. Returns an error if the
// alias is already taken.
func (r *Registry) Register(alias string, record Record) error {
	if alias == "" {
		return fmt.Errorf("cannot register a record with an empty alias")
	}
	if record.Connection.Address == "" {
		return fmt.Errorf("record %q has no connection address", alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[alias]; exists {
		return fmt.Errorf("record %q already registered", alias)
	}
	r.records[alias] = record
	return nil
}

// Get looks up a record by alias.
func (r *Registry) Get(alias string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[alias]
	if !ok {
		return Record{}, fmt.Errorf("no record registered for %q", alias)
	}
	return record, nil
}

// Aliases returns the registered aliases in unspecified order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.records))
	for alias := range r.records {
		aliases = append(aliases, alias)
	}
	return aliases
}
