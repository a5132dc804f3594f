// Package fakegen generates deterministic fixture rows for CDC/DVM
// tests: the same seed always produces the same row values, so a delta
// compilation test can assert on exact inserted/deleted row counts
// instead of "some rows changed." Adapted from the teacher's
// cmd/faker_test determinism demo (seeding go-faker's crypto source
// controls its UUID/random-field output) and pkg/prng's deterministic
// io.Reader, folded into one seed-a-generator-then-generate-N-rows
// helper rather than kept as two standalone demos.
package fakegen

import (
	"reflect"

	faker "github.com/go-faker/faker/v4"

	"github.com/pgtrickle/pgtrickle/pkg/prng"
)

// Seed points go-faker's crypto source at a deterministic PRNG, so
// every FakeData call downstream of this produces reproducible output
// for the given seed. Not safe to call concurrently with fake data
// generation elsewhere in the process, since go-faker's source is
// process-global — callers generating fixtures in parallel should seed
// once up front and generate sequentially.
func Seed(seed int64) {
	faker.SetCryptoSource(prng.New(seed))
}

// Rows generates n deterministic values of T using go-faker's struct
// tag conventions, reseeding from seed first so a given (seed, n, T)
// triple always yields the same rows.
func Rows[T any](seed int64, n int) ([]T, error) {
	Seed(seed)
	out := make([]T, n)
	for i := range out {
		if err := faker.FakeData(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Overwrite applies a per-row mutator after generation, for fixtures
// that need a faked row plus a few deterministic overrides (e.g. a
// primary key sequence go-faker's tags can't express).
func Overwrite[T any](rows []T, mutate func(i int, row *T)) {
	for i := range rows {
		mutate(i, &rows[i])
	}
}

// StructName returns T's type name, useful when a fixture helper wants
// to log what kind of row it just generated without reflect boilerplate
// at every call site.
func StructName[T any]() string {
	var zero T
	return reflect.TypeOf(zero).Name()
}
