package upload

import "sort"

// Diff is the result of comparing remote keys with catalog paths.
type Diff struct {
	// Missing keys exist remotely but have no catalog row.
	Missing []string
	// Orphaned paths have a catalog row but no remote object.
	Orphaned []string
}

// MergeDiff walks both key sets in one ordered pass. Inputs need not be sorted
// or unique; they are normalized into copies first.
func MergeDiff(remote, catalog []string) Diff {
	r := sortedUnique(remote)
	c := sortedUnique(catalog)

	var diff Diff
	i, j := 0, 0
	for i < len(r) && j < len(c) {
		switch {
		case r[i] == c[j]:
			i++
			j++
		case r[i] < c[j]:
			diff.Missing = append(diff.Missing, r[i])
			i++
		default:
			diff.Orphaned = append(diff.Orphaned, c[j])
			j++
		}
	}
	diff.Missing = append(diff.Missing, r[i:]...)
	diff.Orphaned = append(diff.Orphaned, c[j:]...)
	return diff
}

func sortedUnique(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
