// Package partition routes requests to per-city stores. The set of cities is fixed
// when the registry is built; keys are matched without regard to case, surrounding
// space or underscores, so that "Астана", "астана" and "астана_" name the same city.
package partition

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidKey is matched by errors returned for unknown partition keys.
var ErrInvalidKey = errors.New("invalid partition key")

// InvalidKeyError reports a key that names no configured partition.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidKey, e.Key)
}

// Is allows errors.Is(err, ErrInvalidKey).
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// Partition is a named city and its store.
type Partition[S any] struct {
	Name  string
	Store S
}

// Registry holds the configured partitions. It is safe for concurrent reads.
type Registry[S any] struct {
	partitions []Partition[S]
	index      map[string]int
}

// Normalize returns the comparison form of a partition key.
func Normalize(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "_", "")
	return cases.Fold().String(norm.NFC.String(key))
}

// New builds a registry from the given partitions, keeping their order. Names must
// be non-empty and distinct after normalization.
func New[S any](partitions ...Partition[S]) (*Registry[S], error) {
	if len(partitions) == 0 {
		return nil, errors.New("at least one partition is required")
	}
	r := &Registry[S]{
		partitions: make([]Partition[S], 0, len(partitions)),
		index:      map[string]int{},
	}
	for _, p := range partitions {
		key := Normalize(p.Name)
		if key == "" {
			return nil, errors.New("partition name is empty")
		}
		if _, ok := r.index[key]; ok {
			return nil, fmt.Errorf("partition %q declared more than once", p.Name)
		}
		r.index[key] = len(r.partitions)
		r.partitions = append(r.partitions, p)
	}
	return r, nil
}

// Lookup returns the partition named by key, or an *InvalidKeyError.
func (r *Registry[S]) Lookup(key string) (Partition[S], error) {
	i, ok := r.index[Normalize(key)]
	if !ok {
		return Partition[S]{}, &InvalidKeyError{Key: key}
	}
	return r.partitions[i], nil
}

// All returns every partition in registration order.
func (r *Registry[S]) All() []Partition[S] {
	out := make([]Partition[S], len(r.partitions))
	copy(out, r.partitions)
	return out
}

// Others returns every partition except the one named by key.
func (r *Registry[S]) Others(key string) []Partition[S] {
	skip := Normalize(key)
	var out []Partition[S]
	for _, p := range r.partitions {
		if Normalize(p.Name) != skip {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the partition names in registration order.
func (r *Registry[S]) Names() []string {
	names := make([]string, len(r.partitions))
	for i, p := range r.partitions {
		names[i] = p.Name
	}
	return names
}
