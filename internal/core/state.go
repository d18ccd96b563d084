package core

import (
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ResourceState is an in-memory index of the objects of one collection,
// fed by Apply. It is safe to read while the connection goroutine writes.
type ResourceState struct {
	collection Collection

	mu      sync.RWMutex
	objects map[string]*Snapshot

	// seen holds the resync generation that last touched each key.
	seen      map[string]uint64
	gen       uint64
	resyncing bool
}

// NewResourceState returns an empty state for collection.
func NewResourceState(collection Collection) *ResourceState {
	return &ResourceState{
		collection: collection,
		objects:    map[string]*Snapshot{},
		seen:       map[string]uint64{},
	}
}

// Collection returns the collection this state indexes.
func (s *ResourceState) Collection() Collection {
	return s.collection
}

// Apply folds one envelope into the state. It has the Consumer signature.
// Updates older than the stored resourceVersion are ignored, so replays
// after a reconnect are harmless.
func (s *ResourceState) Apply(env Envelope) {
	if env.Resource == nil {
		return
	}
	key := env.Resource.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.objects[key]; ok && olderThan(env.Resource.ResourceVersion, cur.ResourceVersion) {
		s.seen[key] = s.gen
		return
	}

	switch env.Kind {
	case EventAdded, EventModified:
		s.objects[key] = env.Resource
		s.seen[key] = s.gen
	case EventDeleted:
		delete(s.objects, key)
		delete(s.seen, key)
	}
}

// BeginResync starts a relist. Every object must be applied again before
// EndResync or it is dropped.
func (s *ResourceState) BeginResync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.resyncing = true
}

// EndResync removes the objects the relist did not mention and returns
// how many were removed. Without a preceding BeginResync it does nothing.
func (s *ResourceState) EndResync() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resyncing {
		return 0
	}
	s.resyncing = false

	pruned := 0
	for key, gen := range s.seen {
		if gen < s.gen {
			delete(s.objects, key)
			delete(s.seen, key)
			pruned++
		}
	}
	return pruned
}

// Get returns the object stored under namespace/name.
func (s *ResourceState) Get(namespace, name string) (*Snapshot, bool) {
	key := (&Snapshot{Namespace: namespace, Name: name}).Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.objects[key]
	return snap, ok
}

// List returns the objects in namespace sorted by key. An empty
// namespace lists everything.
func (s *ResourceState) List(namespace string) []*Snapshot {
	s.mu.RLock()
	out := make([]*Snapshot, 0, len(s.objects))
	for _, snap := range s.objects {
		if namespace == "" || snap.Namespace == namespace {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Snapshot) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out
}

// Len returns the number of stored objects.
func (s *ResourceState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// olderThan compares resourceVersions numerically. Non-numeric versions
// are opaque and never considered older.
func olderThan(rv, stored string) bool {
	a, err := strconv.ParseUint(rv, 10, 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseUint(stored, 10, 64)
	if err != nil {
		return false
	}
	return a < b
}
