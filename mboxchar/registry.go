// Character-style mailbox endpoints
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mboxchar

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/mbox"
)

// Registry is the cross-bank endpoint namespace, device names are unique
// across all banks registered on it.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	logger  log.FieldLogger
}

// NewRegistry returns an initialized endpoint registry. The logger
// argument may be nil, defaulting to the standard logger.
func NewRegistry(logger log.FieldLogger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Registry{
		devices: make(map[string]*Device),
		logger:  logger,
	}
}

// Add creates the endpoint for a mailbox instance, naming it either from
// the configured name or the mbox<N> pattern, namespaced by the bank
// identifier. It returns icmsg.ErrBusy on a name collision.
func (r *Registry) Add(bank *mbox.Bank, cfg Config) (*Device, error) {
	name := cfg.Name

	if name == "" {
		name = fmt.Sprintf("mbox%d", cfg.Instance)
	}

	name = bank.Name + "/" + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, icmsg.ErrBusy)
	}

	d := &Device{
		name:   name,
		bank:   bank,
		cfg:    cfg,
		logger: r.logger.WithField("device", name),
		wait:   make(chan struct{}),
	}

	r.devices[name] = d
	r.logger.WithField("device", name).Debug("endpoint registered")

	return d, nil
}

// Lookup returns the endpoint registered under the name argument.
func (r *Registry) Lookup(name string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]

	if !ok {
		return nil, fmt.Errorf("%s: %w", name, icmsg.ErrNoDevice)
	}

	return d, nil
}

// Remove closes and unregisters the endpoint registered under the name
// argument.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	d := r.devices[name]
	delete(r.devices, name)
	r.mu.Unlock()

	if d != nil {
		d.Close()
	}
}

// Names returns the registered endpoint names, sorted.
func (r *Registry) Names() (names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.devices {
		names = append(names, name)
	}

	sort.Strings(names)

	return
}
