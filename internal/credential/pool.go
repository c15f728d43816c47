// Package credential discovers and holds the pool of upstream API keys.
//
// The pool is built once from the environment and is immutable afterwards:
// only cooldown status (tracked elsewhere) changes at runtime. Secrets never
// leave this package except through the upstream caller and the explicit
// live-session grant path.
package credential

import (
	"fmt"
	"os"
)

// Credential pairs a secret with the stable name it was discovered under.
// The name (the environment variable) is what appears in logs, metrics and
// cooldown keys; the secret itself never does.
type Credential struct {
	Name   string
	Secret string
}

// Pool is an immutable, discovery-ordered collection of credentials.
type Pool struct {
	creds []Credential
	index map[string]int
}

// LookupFunc resolves an environment variable, reporting whether it is set.
// Matches the signature of os.LookupEnv so tests can inject a fake.
type LookupFunc func(key string) (string, bool)

// Discover scans the configuration namespace for credentials: the base name
// first, then base_1 .. base_max in ascending order. Every present, non-empty
// value joins the pool. An empty result is not an error here; the dispatcher
// surfaces it as a configuration error on first use.
func Discover(lookup LookupFunc, base string, max int) *Pool {
	p := &Pool{index: make(map[string]int)}

	if v, ok := lookup(base); ok && v != "" {
		p.append(Credential{Name: base, Secret: v})
	}
	for i := 1; i <= max; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if v, ok := lookup(name); ok && v != "" {
			p.append(Credential{Name: name, Secret: v})
		}
	}
	return p
}

// FromEnv discovers credentials from the process environment.
func FromEnv(base string, max int) *Pool {
	return Discover(os.LookupEnv, base, max)
}

func (p *Pool) append(c Credential) {
	p.index[c.Name] = len(p.creds)
	p.creds = append(p.creds, c)
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Get returns the credential at position i in discovery order.
func (p *Pool) Get(i int) Credential {
	return p.creds[i]
}

// ByName returns the credential with the given name, if present.
func (p *Pool) ByName(name string) (Credential, bool) {
	i, ok := p.index[name]
	if !ok {
		return Credential{}, false
	}
	return p.creds[i], true
}

// Names returns credential names in discovery order. The slice is a copy.
func (p *Pool) Names() []string {
	names := make([]string, len(p.creds))
	for i, c := range p.creds {
		names[i] = c.Name
	}
	return names
}
