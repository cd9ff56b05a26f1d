package htrie

// Entry is one key/value pair observed by [Store.Iter].
type Entry struct {
	Key  uint64
	Data []byte
}

// Seq matches the shape of iter.Seq[Entry] so callers can use
// slices.Collect(iter.Seq[htrie.Entry](store.Iter())) without this
// package depending on the iter package directly.
type Seq func(yield func(Entry) bool)

// Iter returns a sequence over every complete, non-tombstoned record in
// the store. It is built on [Store.EntryWalk] and shares its
// lock-free, best-effort-consistent semantics.
func (s *Store) Iter() Seq {
	return func(yield func(Entry) bool) {
		_ = s.EntryWalk(func(key uint64, data []byte) bool {
			return yield(Entry{Key: key, Data: data})
		})
	}
}
