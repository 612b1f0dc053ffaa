package script

import (
	"os"
	"sort"
)

const fallbackPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// inheritedKeys are the only host variables a script observes.
var inheritedKeys = []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TERM", "TZ"}

// BuildEnv merges the minimal host base with the explicit bindings. Bindings
// win over inherited values. The result is sorted for reproducible runs.
func BuildEnv(bindings map[string]string) []string {
	merged := make(map[string]string, len(inheritedKeys)+len(bindings))
	for _, key := range inheritedKeys {
		if value, ok := os.LookupEnv(key); ok {
			merged[key] = value
		}
	}
	if merged["PATH"] == "" {
		merged["PATH"] = fallbackPath
	}
	for key, value := range bindings {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}
