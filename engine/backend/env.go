package backend

import (
	"os"
	"strings"
)

// MergeEnviron overlays extra variables onto a base environment in the
// KEY=VALUE slice form consumed by process spawners. Extra values win on key
// collision.
func MergeEnviron(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(extra))
	replaced := make(map[string]struct{}, len(extra))
	for _, kv := range base {
		equal := strings.IndexByte(kv, '=')
		if equal <= 0 {
			continue
		}
		key := kv[:equal]
		if value, ok := extra[key]; ok {
			merged = append(merged, key+"="+value)
			replaced[key] = struct{}{}
			continue
		}
		merged = append(merged, kv)
	}
	for key, value := range extra {
		if _, ok := replaced[key]; ok {
			continue
		}
		merged = append(merged, key+"="+value)
	}
	return merged
}

// ProcessEnviron builds the environment for a spawned command: the host
// environment with HOME rebound to the working directory, then overrides
// applied child-wins.
func ProcessEnviron(cwd string, extra map[string]string) []string {
	base := MergeEnviron(os.Environ(), map[string]string{"HOME": cwd})
	return MergeEnviron(base, extra)
}

// MergeEnvMaps overlays child entries onto a copy of parent. Neither input
// is mutated.
func MergeEnvMaps(parent, child map[string]string) map[string]string {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	merged := make(map[string]string, len(parent)+len(child))
	for key, value := range parent {
		merged[key] = value
	}
	for key, value := range child {
		merged[key] = value
	}
	return merged
}
