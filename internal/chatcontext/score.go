package chatcontext

// Score computes keyword overlap between two keyword sets, normalized by the
// size of the larger set. Returns a value in [0,1]; 0 when either set is
// empty. Order within the sets is ignored.
func Score(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inA := make(map[string]struct{}, len(a))
	for _, k := range a {
		inA[k] = struct{}{}
	}
	intersection := 0
	counted := make(map[string]struct{}, len(b))
	for _, k := range b {
		if _, dup := counted[k]; dup {
			continue
		}
		counted[k] = struct{}{}
		if _, ok := inA[k]; ok {
			intersection++
		}
	}

	larger := len(inA)
	if len(counted) > larger {
		larger = len(counted)
	}
	return float64(intersection) / float64(larger)
}

// RecencyBonus returns indexFromNewest/totalCount for a candidate at the
// given position of a newest-first list, or 0 when the list is empty.
//
// Note the bonus grows with distance from the front of the list, i.e. older
// entries in a newest-first ordering receive the larger bonus. The ranking
// depends on this exact rank-based formula; do not replace it with a
// timestamp-delta decay, which reorders results.
func RecencyBonus(indexFromNewest, totalCount int) float64 {
	if totalCount <= 0 {
		return 0
	}
	return float64(indexFromNewest) / float64(totalCount)
}
