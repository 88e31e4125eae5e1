package rules

// Obsolete returns the keys present in previous but absent from current,
// preserving previous order. Keys compare on (port, protocol,
// description) only, so an enabled-state change alone never produces an
// obsolete entry.
func Obsolete(previous, current []Key) []Key {
	live := make(map[Key]struct{}, len(current))
	for _, k := range current {
		live[k] = struct{}{}
	}

	var obsolete []Key
	for _, k := range previous {
		if _, ok := live[k]; !ok {
			obsolete = append(obsolete, k)
		}
	}
	return obsolete
}
