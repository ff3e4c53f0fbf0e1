// Package testutil provides testing utilities for quill.
//
// This package is intended for use in tests and benchmarks only. It provides
// a seeded thread-safe random source and generators for realistic test
// documents.
package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/quilldb/quill/document"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63 returns a non-negative pseudo-random int64.
func (r *RNG) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Pick returns a random element of choices.
func (r *RNG) Pick(choices []string) string {
	return choices[r.Intn(len(choices))]
}

var (
	firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Leslie", "Tony"}
	cities     = []string{"London", "Zurich", "Austin", "Eindhoven", "Boston", "Oslo"}
	tags       = []string{"alpha", "beta", "gamma", "delta", "epsilon"}
)

// Person generates a person document with deterministic structure and
// rng-driven values: name, age, a nested address and a tag list.
func Person(rng *RNG, i int) *document.Document {
	doc := document.FromPairs(
		"name", fmt.Sprintf("%s-%04d", rng.Pick(firstNames), i),
		"age", int64(18+rng.Intn(60)),
		"score", rng.Float64()*100,
	)
	addr := document.FromPairs(
		"city", rng.Pick(cities),
		"zip", fmt.Sprintf("%05d", rng.Intn(100000)),
	)
	doc.Put("address", document.Embed(addr))
	doc.Put("tags", document.Array(
		document.String(rng.Pick(tags)),
		document.String(rng.Pick(tags)),
	))
	return doc
}

// People generates n person documents.
func People(rng *RNG, n int) []*document.Document {
	out := make([]*document.Document, n)
	for i := range out {
		out[i] = Person(rng, i)
	}
	return out
}
