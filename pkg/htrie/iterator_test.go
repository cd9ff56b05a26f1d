package htrie_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/mappedkv/htrie/pkg/htrie"
)

func Test_Iter_Yields_Exactly_The_Live_Entries(t *testing.T) {
	t.Parallel()

	s, err := htrie.Open(htrie.Options{Path: filepath.Join(t.TempDir(), "iter.htrie")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	want := []htrie.Entry{
		{Key: 1, Data: []byte("one")},
		{Key: 2, Data: []byte("two")},
		{Key: 3, Data: []byte("three")},
	}
	for _, e := range want {
		_, err := s.EntryCreate(e.Key, e.Data)
		require.NoError(t, err)
	}
	require.NoError(t, s.EntryRemove(2))
	want = append(want[:1], want[2:]...)

	var got []htrie.Entry
	for e := range s.Iter() {
		got = append(got, htrie.Entry{Key: e.Key, Data: append([]byte(nil), e.Data...)})
	}

	sortEntries := cmpopts.SortSlices(func(a, b htrie.Entry) bool { return a.Key < b.Key })
	if diff := cmp.Diff(want, got, sortEntries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func Test_Iter_Stops_Early_When_Yield_Returns_False(t *testing.T) {
	t.Parallel()

	s, err := htrie.Open(htrie.Options{Path: filepath.Join(t.TempDir(), "iter.htrie")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for key := uint64(0); key < 50; key++ {
		_, err := s.EntryCreate(key, nil)
		require.NoError(t, err)
	}

	var seen []uint64
	for e := range s.Iter() {
		seen = append(seen, e.Key)
		if len(seen) == 5 {
			break
		}
	}

	require.Len(t, seen, 5)

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i := 1; i < len(seen); i++ {
		require.NotEqual(t, seen[i-1], seen[i], "iterator yielded a duplicate key")
	}
}
