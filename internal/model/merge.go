package model

// Merge combines an existing series with freshly fetched bars.
// Fresh bars win on duplicate timestamps. Merge does no I/O and never
// modifies its inputs; the result is always normalized.
func Merge(existing, fresh Series) Series {
	if len(existing) == 0 {
		return Normalize(fresh)
	}
	if len(fresh) == 0 {
		return Normalize(existing)
	}
	all := make(Series, 0, len(existing)+len(fresh))
	all = append(all, existing...)
	all = append(all, fresh...)
	return Normalize(all)
}
