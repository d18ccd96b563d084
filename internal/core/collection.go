package core

import (
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// DefaultNamespacedResources lists the collections that require namespace
// scoping when no configuration overrides it.
var DefaultNamespacedResources = []string{"shoots"}

// Collection identifies the resource collection a Connection watches. It is
// a value type and is never mutated once a Connection has been created.
type Collection struct {
	schema.GroupVersionResource
	Namespaced bool
}

// Name returns the plural resource name, e.g. "shoots".
func (c Collection) Name() string {
	return c.Resource
}

func (c Collection) String() string {
	if c.Group == "" {
		return c.Version + "/" + c.Resource
	}
	return c.Group + "/" + c.Version + "/" + c.Resource
}

// CollectionRegistry is the read-only table of resource names that are
// namespace scoped. It is built once at startup and shared freely.
type CollectionRegistry struct {
	namespaced []string
}

// NewCollectionRegistry copies names into a new registry. Names are
// compared case-insensitively.
func NewCollectionRegistry(namespaced []string) *CollectionRegistry {
	names := make([]string, 0, len(namespaced))
	for _, n := range namespaced {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || slices.Contains(names, n) {
			continue
		}
		names = append(names, n)
	}
	slices.Sort(names)
	return &CollectionRegistry{namespaced: names}
}

// IsNamespaced reports whether resource is in the namespaced set.
func (r *CollectionRegistry) IsNamespaced(resource string) bool {
	_, ok := slices.BinarySearch(r.namespaced, strings.ToLower(resource))
	return ok
}

// Namespaced returns a copy of the namespaced resource names.
func (r *CollectionRegistry) Namespaced() []string {
	return slices.Clone(r.namespaced)
}

// Collection builds the identity for gvr.
func (r *CollectionRegistry) Collection(gvr schema.GroupVersionResource) Collection {
	return Collection{
		GroupVersionResource: gvr,
		Namespaced:           r.IsNamespaced(gvr.Resource),
	}
}

// ParseCollection resolves "group/version/resource" or "version/resource"
// (core group) into a Collection.
func (r *CollectionRegistry) ParseCollection(s string) (Collection, error) {
	gvr, err := ParseGroupVersionResource(s)
	if err != nil {
		return Collection{}, err
	}
	return r.Collection(gvr), nil
}

// ParseGroupVersionResource parses the textual collection form used in
// configuration.
func ParseGroupVersionResource(s string) (schema.GroupVersionResource, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	for _, p := range parts {
		if p == "" {
			return schema.GroupVersionResource{}, &ErrInvalidInput{Field: "collection", Message: fmt.Sprintf("malformed collection %q", s)}
		}
	}

	switch len(parts) {
	case 2:
		return schema.GroupVersionResource{Version: parts[0], Resource: strings.ToLower(parts[1])}, nil
	case 3:
		return schema.GroupVersionResource{Group: parts[0], Version: parts[1], Resource: strings.ToLower(parts[2])}, nil
	default:
		return schema.GroupVersionResource{}, &ErrInvalidInput{
			Field:   "collection",
			Message: fmt.Sprintf("expected group/version/resource or version/resource, got %q", s),
		}
	}
}
