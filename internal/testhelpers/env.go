package testhelpers

// EnvLookup builds an environment lookup function from a map, for driving
// credential discovery in tests without touching the process environment.
func EnvLookup(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}
