package config

import (
	"encoding/json"
	"reflect"
)

// SummarizeChange reports which top-level sections differ between two
// configs, so reload logs stay readable without dumping whole structs
// (tokens must never hit the log).
func SummarizeChange(old, new *Config) []string {
	if old == nil || new == nil {
		return []string{"all"}
	}

	var sections []string
	add := func(name string, a, b any) {
		if !jsonEqual(a, b) {
			sections = append(sections, name)
		}
	}

	add("logging", old.Logging, new.Logging)
	add("pacing", old.Pacing, new.Pacing)
	add("accounts", old.Accounts, new.Accounts)
	add("plans", old.Plans, new.Plans)
	add("notifier", old.Notifier, new.Notifier)
	add("storage", old.Storage, new.Storage)
	return sections
}

// AccountsChanged reports account IDs whose plan changed plus added and
// removed IDs; a plan change forces an engine rebuild.
func AccountsChanged(old, new *Config) (changed, added, removed []string) {
	oldPlans := map[string]string{}
	if old != nil {
		for _, a := range old.Accounts {
			oldPlans[a.ID] = a.Plan
		}
	}
	seen := map[string]bool{}
	if new != nil {
		for _, a := range new.Accounts {
			seen[a.ID] = true
			prev, ok := oldPlans[a.ID]
			switch {
			case !ok:
				added = append(added, a.ID)
			case prev != a.Plan:
				changed = append(changed, a.ID)
			}
		}
	}
	for id := range oldPlans {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	return changed, added, removed
}

func jsonEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
