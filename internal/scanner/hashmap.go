package scanner

import "sort"

// BuildFileHashMap maps relative path to content hash. Only text files that
// were fully read contribute entries.
func BuildFileHashMap(files []ScannedFile) map[string]string {
	m := make(map[string]string, len(files))
	for _, f := range files {
		if f.SHA256 == "" {
			continue
		}
		m[f.RelPath] = f.SHA256
	}
	return m
}

// DiffFileHashMap compares two hash maps and returns the relative paths that
// were added, changed, or removed, each sorted for determinism. Unchanged
// paths appear in none of the three lists.
func DiffFileHashMap(old, new map[string]string) (added, changed, removed []string) {
	for path, hash := range new {
		oldHash, ok := old[path]
		switch {
		case !ok:
			added = append(added, path)
		case oldHash != hash:
			changed = append(changed, path)
		}
	}
	for path := range old {
		if _, ok := new[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(added)
	sort.Strings(changed)
	sort.Strings(removed)
	return added, changed, removed
}
