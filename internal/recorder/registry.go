package recorder

import (
	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/syncx"
)

// Registry is the in-memory index of persisted recordings, keyed by
// file path. It is authoritative for the process lifetime; recordings
// are deep-copied on both insert and lookup so callers can never alias
// a stored sample buffer.
type Registry struct {
	recs *syncx.RWGuard[map[string]audio.Recording]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{recs: syncx.NewGuard(map[string]audio.Recording{})}
}

// Put registers a persisted recording under its path and returns the id.
func (r *Registry) Put(rec audio.Recording) (string, error) {
	if rec.Path == "" {
		return "", errors.New(errors.InvalidRecording, "recording must have a path to be registered")
	}
	clone := rec.Clone()
	r.recs.Write(func(m *map[string]audio.Recording) {
		(*m)[rec.Path] = clone
	})
	return rec.Path, nil
}

// Get returns a defensive copy of the recording with the given id.
func (r *Registry) Get(id string) (audio.Recording, error) {
	type lookup struct {
		rec audio.Recording
		ok  bool
	}
	got := syncx.Read(r.recs, func(m map[string]audio.Recording) lookup {
		rec, ok := m[id]
		return lookup{rec, ok}
	})
	if !got.ok {
		return audio.Recording{}, errors.Newf(errors.NotFound, "recording %q not found", id)
	}
	return got.rec.Clone(), nil
}

// Len returns the number of registered recordings.
func (r *Registry) Len() int {
	return syncx.Read(r.recs, func(m map[string]audio.Recording) int {
		return len(m)
	})
}
