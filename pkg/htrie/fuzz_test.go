package htrie_test

// Deterministic tests comparing htrie against an in-memory reference model.
// Uses a seeded PRNG for reproducible operation sequences across multiple
// configuration profiles.
//
// Failures mean: the store returned data, presence, or errors inconsistent
// with a plain map subjected to the same operations.

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/mappedkv/htrie/pkg/htrie"
)

type fuzzProfile struct {
	name string
	opts htrie.Options
}

var fuzzProfiles = []fuzzProfile{
	{"DefaultSizes", htrie.Options{}},
	{"SmallExtents", htrie.Options{ExtentSize: 64 * 1024, SmallBlockSize: 64, FragmentBlockSize: 160}},
	{"TinySmallBlocks", htrie.Options{ExtentSize: 128 * 1024, SmallBlockSize: 32, FragmentBlockSize: 256}},
}

const defaultMaxFuzzOperations = 3000

// Runs seeded random create/get/remove sequences against each profile and
// checks every observation against a plain map model.
func Test_Store_Matches_Model_When_Seeded_Random_Ops_Applied(t *testing.T) {
	t.Parallel()

	seedsPerProfile := 6
	if testing.Short() {
		seedsPerProfile = 2
	}

	for _, profile := range fuzzProfiles {
		for seedIndex := 0; seedIndex < seedsPerProfile; seedIndex++ {
			seed := uint64(seedIndex + 1)
			testName := fmt.Sprintf("%s/seed=%d", profile.name, seed)

			t.Run(testName, func(t *testing.T) {
				t.Parallel()

				opts := profile.opts
				opts.Path = filepath.Join(t.TempDir(), "fuzz.htrie")

				s, err := htrie.Open(opts)
				if err != nil {
					t.Fatalf("open: %v", err)
				}
				defer s.Close()

				runFuzzOps(t, s, rand.New(rand.NewPCG(seed, seed)))
			})
		}
	}
}

// runFuzzOps drives defaultMaxFuzzOperations random create/get/remove calls
// against s, checking every observable result against model, a plain map
// tracking the same keys.
func runFuzzOps(t *testing.T, s *htrie.Store, rng *rand.Rand) {
	t.Helper()

	model := make(map[uint64][]byte)
	const keySpace = 400

	for op := 0; op < defaultMaxFuzzOperations; op++ {
		key := uint64(rng.IntN(keySpace))

		switch rng.IntN(3) {
		case 0: // create or overwrite-by-remove-then-create
			if _, exists := model[key]; exists {
				if err := s.EntryRemove(key); err != nil {
					t.Fatalf("op=%d remove(%d) before recreate: %v", op, key, err)
				}
				delete(model, key)
			}

			n := rng.IntN(300)
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(rng.IntN(256))
			}

			if _, err := s.EntryCreate(key, data); err != nil {
				t.Fatalf("op=%d create(%d, len=%d): %v", op, key, n, err)
			}
			model[key] = data

		case 1: // get
			want, exists := model[key]
			it, err := s.RecGet(key)
			if !exists {
				if !errors.Is(err, htrie.ErrKeyAbsent) {
					t.Fatalf("op=%d get(%d): err=%v, want ErrKeyAbsent", op, key, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("op=%d get(%d): %v", op, key, err)
			}
			got := it.Data()
			s.RecPut(it)
			if string(got) != string(want) {
				t.Fatalf("op=%d get(%d): got=%q, want=%q", op, key, got, want)
			}

		case 2: // remove
			_, exists := model[key]
			err := s.EntryRemove(key)
			if !exists {
				if !errors.Is(err, htrie.ErrKeyAbsent) {
					t.Fatalf("op=%d remove(%d) of absent key: err=%v, want ErrKeyAbsent", op, key, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("op=%d remove(%d): %v", op, key, err)
			}
			delete(model, key)
		}
	}

	for key, want := range model {
		it, err := s.RecGet(key)
		if err != nil {
			t.Fatalf("final check get(%d): %v", key, err)
		}
		got := it.Data()
		s.RecPut(it)
		if string(got) != string(want) {
			t.Fatalf("final check key %d: got=%q, want=%q", key, got, want)
		}
	}
}
