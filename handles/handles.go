// Package handles moves values across the host boundary as opaque integer
// tokens. A value is heapified once and reclaimed once; the token is
// meaningless to the host beyond passing it back.
package handles

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrInvalidHandle is the panic cause for reclaiming an unknown, already
// reclaimed, or mistyped handle.
var ErrInvalidHandle = errors.New("invalid handle")

// Registry maps live handles to the values they stand for. Zero is never
// issued and means null.
type Registry struct {
	values sync.Map // map[uint64]any
	seq    atomic.Uint64
	live   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Heapify moves v into the registry and returns its handle. The caller
// relinquishes v until the handle is reclaimed.
func (r *Registry) Heapify(v any) uint64 {
	h := r.seq.Add(1)
	r.values.Store(h, v)
	r.live.Add(1)
	return h
}

// Len returns the number of handles not yet reclaimed.
func (r *Registry) Len() int {
	return int(r.live.Load())
}

func (r *Registry) take(h uint64) any {
	v, ok := r.values.LoadAndDelete(h)
	if !ok {
		panic(errors.Wrapf(ErrInvalidHandle, "reclaim of unknown handle %d", h))
	}
	r.live.Add(-1)
	return v
}

// Reclaim removes the value behind h and returns it, invalidating h. A
// second reclaim of the same handle panics.
func Reclaim[T any](r *Registry, h uint64) T {
	v := r.take(h)
	typed, ok := v.(T)
	if !ok {
		panic(errors.Wrapf(ErrInvalidHandle, "handle %d holds %T, reclaimed as %s", h, v, typeName[T]()))
	}
	return typed
}

// Borrow returns the value behind h without consuming the handle.
func Borrow[T any](r *Registry, h uint64) T {
	v, ok := r.values.Load(h)
	if !ok {
		panic(errors.Wrapf(ErrInvalidHandle, "borrow of unknown handle %d", h))
	}
	typed, ok := v.(T)
	if !ok {
		panic(errors.Wrapf(ErrInvalidHandle, "handle %d holds %T, borrowed as %s", h, v, typeName[T]()))
	}
	return typed
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", &zero)[1:]
}
