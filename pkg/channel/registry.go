// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an adapter instance. Construction may touch the filesystem
// (credential directories), so it is deferred until first runtime access.
type Factory func() (Plugin, error)

type registryEntry struct {
	factory Factory

	once   sync.Once
	plugin Plugin
	err    error
}

// Registry maps channel tags to lazily instantiated adapters.
type Registry struct {
	lock    sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*registryEntry{}}
}

// Register installs a factory for tag. Re-registration replaces the existing
// entry, including an already instantiated plugin.
func (r *Registry) Register(tag string, factory Factory) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[tag] = &registryEntry{factory: factory}
}

// Get instantiates the adapter for tag on first access and caches it.
func (r *Registry) Get(tag string) (Plugin, error) {
	r.lock.Lock()
	entry, ok := r.entries[tag]
	r.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown channel %q", tag)
	}

	entry.once.Do(func() {
		entry.plugin, entry.err = entry.factory()
	})
	return entry.plugin, entry.err
}

// Tags returns the registered channel tags, sorted.
func (r *Registry) Tags() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// defaultRegistry is the process-wide registry the runtime resolves from.
var defaultRegistry = NewRegistry()

// Register installs a factory on the process-wide registry.
func Register(tag string, factory Factory) {
	defaultRegistry.Register(tag, factory)
}

// Get resolves a plugin from the process-wide registry.
func Get(tag string) (Plugin, error) {
	return defaultRegistry.Get(tag)
}

// Tags lists the process-wide registry, sorted.
func Tags() []string {
	return defaultRegistry.Tags()
}
