package process

import (
	"sort"
	"strings"
)

// MergeEnv overlays overrides onto a KEY=VALUE environment list. Existing
// keys keep their position with the new value; new keys are appended in
// sorted order. Later duplicates in base are dropped.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(base)+len(overrides))

	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		if v, override := overrides[key]; override {
			out = append(out, key+"="+v)
			continue
		}
		out = append(out, kv)
	}

	added := make([]string, 0, len(overrides))
	for key := range overrides {
		if !seen[key] {
			added = append(added, key)
		}
	}
	sort.Strings(added)
	for _, key := range added {
		out = append(out, key+"="+overrides[key])
	}

	return out
}
