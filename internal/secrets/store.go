package secrets

import (
	"os"
	"strings"
)

// Store resolves opaque credentials by name at run time. Secret values are
// never written into the workflow descriptor; steps reference them by name
// and the store supplies the value for just that step.
type Store interface {
	Get(name string) (string, bool)
}

// Env resolves secrets from process environment variables of the form
// <Prefix><NAME>, with the name upper-cased and dashes folded to
// underscores. The default prefix is "GRIDCI_SECRET_".
type Env struct {
	Prefix string
}

// NewEnv returns an Env store with the default prefix.
func NewEnv() Env {
	return Env{Prefix: "GRIDCI_SECRET_"}
}

func (e Env) Get(name string) (string, bool) {
	key := e.Prefix + envKey(name)
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envKey(name string) string {
	name = strings.ToUpper(name)
	return strings.ReplaceAll(name, "-", "_")
}

// Static is a fixed in-memory store, used by tests and embedding callers.
type Static map[string]string

func (s Static) Get(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
