package identity

// Entity is an inventory row that can be matched across stores by a natural
// (business) key.
type Entity[N comparable] interface {
	NaturalKey() N
}

// Match pairs a source entity with the target entity sharing its natural key.
type Match[E any] struct {
	Source E
	Target E
}

// MatchResult splits a source inventory into entities already present in
// the target and entities the target lacks.
type MatchResult[E any] struct {
	Matched []Match[E]
	Missing []E
}

// MatchInventories matches source against target by natural key. When the
// target holds the same natural key more than once the first row wins, so
// callers pass target inventories ordered by ID.
func MatchInventories[E Entity[N], N comparable](source, target []E) MatchResult[E] {
	index := make(map[N]E, len(target))
	for _, t := range target {
		k := t.NaturalKey()
		if _, dup := index[k]; !dup {
			index[k] = t
		}
	}

	var res MatchResult[E]
	for _, s := range source {
		if t, ok := index[s.NaturalKey()]; ok {
			res.Matched = append(res.Matched, Match[E]{Source: s, Target: t})
			continue
		}
		res.Missing = append(res.Missing, s)
	}
	return res
}
