package flagbind

// FilterFlags restricts flags to the keys of target. Keys in target that flags
// does not contain are left out rather than defaulted. A nil target keeps
// every flag. The result is always a new map.
func FilterFlags(flags, target FlagSet) FlagSet {
	if target == nil {
		return mergeFlags(nil, flags)
	}

	filtered := make(FlagSet, len(target))
	for key := range target {
		if value, ok := flags[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}

// ReduceChangeset flattens a change notification to the current values,
// keeping only keys in target when target is non-nil. With normalize set the
// result is keyed by camel-cased key. The result is never nil; an empty result
// means there is nothing to apply.
func ReduceChangeset(changes Changeset, target FlagSet, normalize bool) FlagSet {
	flattened := make(FlagSet, len(changes))
	for key, change := range changes {
		if target != nil {
			if _, ok := target[key]; !ok {
				continue
			}
		}
		if normalize {
			key = CamelCase(key)
		}
		flattened[key] = change.Current
	}
	return flattened
}

// mergeFlags returns a new set holding base overlaid with next.
func mergeFlags(base, next FlagSet) FlagSet {
	merged := make(FlagSet, len(base)+len(next))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range next {
		merged[key] = value
	}
	return merged
}

// fetchFlags reads the current values from client. With target flags each
// key is evaluated individually, using the target value as the default.
func fetchFlags(client Client, target FlagSet) FlagSet {
	if target == nil {
		return mergeFlags(nil, client.AllFlags())
	}

	fetched := make(FlagSet, len(target))
	for key, defaultValue := range target {
		fetched[key] = client.Variation(key, defaultValue)
	}
	return fetched
}
