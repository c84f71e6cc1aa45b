package query

// IsRawQuerySubset reports whether every key of sub is present in sup with
// at least as many occurrences of each of its values. Both sides are parsed
// in the comma-array format.
func IsRawQuerySubset(sup, sub string) bool {
	return IsSubset(Parse(sup), Parse(sub))
}

// IsSubset is IsRawQuerySubset on parsed queries.
func IsSubset(sup, sub Query) bool {
	for key, subValue := range sub {
		supValue, ok := sup[key]
		if !ok {
			return false
		}

		counts := make(map[string]int, len(supValue.Items))
		for _, v := range supValue.Items {
			counts[v]++
		}
		for _, v := range subValue.Items {
			if counts[v] == 0 {
				return false
			}
			counts[v]--
		}
	}
	return true
}
