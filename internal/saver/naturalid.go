package saver

import "fmt"

// HashLookup returns the content hash stored under a natural identifier
// for one thread.
type HashLookup func(naturalID string) (hash string, found bool, err error)

const maxCollisionSuffix = 1000

// ResolveNaturalID picks the identifier a message is stored under. The base
// identifier is used when free. When it holds a different message, numeric
// suffixes __2, __3 and so on are tried in order. duplicate is true when
// one of the candidates already holds a message with the same content hash.
func ResolveNaturalID(base, contentHash string, lookup HashLookup) (id string, duplicate bool, err error) {
	for n := 1; n <= maxCollisionSuffix; n++ {
		id = base
		if n > 1 {
			id = fmt.Sprintf("%s__%d", base, n)
		}

		hash, found, err := lookup(id)
		if err != nil {
			return "", false, err
		}
		if !found {
			return id, false, nil
		}
		if hash == contentHash {
			return id, true, nil
		}
	}

	return "", false, fmt.Errorf("natural identifier %s has more than %d colliding messages", base, maxCollisionSuffix)
}
