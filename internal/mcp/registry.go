// Package mcp holds the worker registry and the selector that scores its
// entries against a task signal.
package mcp

import (
	"fmt"
	"sync"

	"github.com/fentz26/switchboard/internal/models"
)

func cloneDescriptor(d *models.WorkerDescriptor) models.WorkerDescriptor {
	c := *d
	if d.Args != nil {
		c.Args = append([]string(nil), d.Args...)
	}
	if d.Capabilities != nil {
		c.Capabilities = append([]string(nil), d.Capabilities...)
	}
	if d.Keywords != nil {
		c.Keywords = append([]string(nil), d.Keywords...)
	}
	if d.Tools != nil {
		c.Tools = append([]string(nil), d.Tools...)
	}
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	if d.Credential != nil {
		cred := *d.Credential
		c.Credential = &cred
	}
	return c
}

// Registry manages the registered worker descriptors. Iteration order is
// registration order.
type Registry struct {
	workers map[string]*models.WorkerDescriptor
	order   []string
	mu      sync.RWMutex
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*models.WorkerDescriptor),
	}
}

// Register adds or updates a worker. Updating keeps the original position.
func (r *Registry) Register(d models.WorkerDescriptor) error {
	if err := normalize(&d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[d.Name]; !ok {
		r.order = append(r.order, d.Name)
	}
	c := cloneDescriptor(&d)
	r.workers[d.Name] = &c
	return nil
}

// Replace swaps the whole registry contents. Nothing changes if any
// descriptor is invalid.
func (r *Registry) Replace(ds []models.WorkerDescriptor) error {
	workers := make(map[string]*models.WorkerDescriptor, len(ds))
	order := make([]string, 0, len(ds))
	for i := range ds {
		d := cloneDescriptor(&ds[i])
		if err := normalize(&d); err != nil {
			return err
		}
		if _, dup := workers[d.Name]; dup {
			return fmt.Errorf("duplicate worker %q", d.Name)
		}
		workers[d.Name] = &d
		order = append(order, d.Name)
	}

	r.mu.Lock()
	r.workers = workers
	r.order = order
	r.mu.Unlock()
	return nil
}

// Get retrieves a worker descriptor by name.
func (r *Registry) Get(name string) (*models.WorkerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.workers[name]
	if !ok {
		return nil, false
	}

	c := cloneDescriptor(d)
	return &c, true
}

// List returns deep copies of all descriptors in registry order.
func (r *Registry) List() []models.WorkerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds := make([]models.WorkerDescriptor, 0, len(r.order))
	for _, name := range r.order {
		ds = append(ds, cloneDescriptor(r.workers[name]))
	}
	return ds
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RegisterDefaults registers the built-in worker catalog.
func (r *Registry) RegisterDefaults() error {
	ds, err := DefaultDescriptors()
	if err != nil {
		return err
	}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func normalize(d *models.WorkerDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}
	if d.Command == "" {
		return fmt.Errorf("worker %q: command cannot be empty", d.Name)
	}
	kind, err := models.ParseAuthKind(string(d.AuthKind))
	if err != nil {
		return fmt.Errorf("worker %q: %w", d.Name, err)
	}
	d.AuthKind = kind
	if d.AuthKind == models.AuthSecretToken && d.Credential != nil && d.Credential.Kind == "" {
		return fmt.Errorf("worker %q: credential kind cannot be empty", d.Name)
	}
	return nil
}
