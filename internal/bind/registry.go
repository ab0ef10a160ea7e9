// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package bind

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Registry tracks the server side resources acquired during a single call.
// Every tracked resource is released exactly once.
type Registry struct {
	mutex   sync.Mutex
	handles []*Handle
}

// Handle is a resource tracked by a Registry.
type Handle struct {
	name     string
	free     func() error
	released bool
}

// Track adds a resource to the registry. free is called when the resource
// is released.
func (r *Registry) Track(name string, free func() error) *Handle {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	h := &Handle{name: name, free: free}
	r.handles = append(r.handles, h)
	return h
}

// ReleaseOne releases a single resource. Releasing a resource that has
// already been released does nothing.
func (r *Registry) ReleaseOne(h *Handle) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return h.release()
}

// Release frees every resource not yet released, most recently acquired
// first. Every resource is attempted even if some fail; the failures are
// returned together.
func (r *Registry) Release() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var result *multierror.Error
	for i := len(r.handles) - 1; i >= 0; i-- {
		if err := r.handles[i].release(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.handles = nil
	return result.ErrorOrNil()
}

// Len returns the number of resources not yet released.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, h := range r.handles {
		if !h.released {
			n++
		}
	}
	return n
}

func (h *Handle) release() error {
	if h.released {
		return nil
	}
	h.released = true
	if err := h.free(); err != nil {
		return errors.Wrapf(err, "cannot release %s", h.name)
	}
	return nil
}
