package reqguard

import (
	"fmt"
	"net/http"
	"sort"
)

// DefaultMaxBodyBytes is the inclusive ceiling on a declared request body.
const DefaultMaxBodyBytes int64 = 2 * 1024 * 1024

var defaultMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodHead,
}

// Config is built once at startup and only read afterwards. Copies share the
// method set, which is never written after construction.
type Config struct {
	maxBodyBytes int64
	allowed      map[string]struct{}
}

// DefaultConfig is 2 MiB and GET, POST, PUT, DELETE, HEAD.
func DefaultConfig() Config {
	c, _ := NewConfig(DefaultMaxBodyBytes, defaultMethods...)
	return c
}

// NewConfig validates its inputs; method names are case-sensitive.
func NewConfig(maxBodyBytes int64, methods ...string) (Config, error) {
	if maxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("max body bytes must be positive, got %d", maxBodyBytes)
	}
	if len(methods) == 0 {
		return Config{}, fmt.Errorf("at least one allowed method is required")
	}
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		if m == "" {
			return Config{}, fmt.Errorf("empty method name")
		}
		allowed[m] = struct{}{}
	}
	return Config{maxBodyBytes: maxBodyBytes, allowed: allowed}, nil
}

func (c Config) MaxBodyBytes() int64 { return c.maxBodyBytes }

// Allows reports whether method is in the allow-list. The zero Config allows nothing.
func (c Config) Allows(method string) bool {
	_, ok := c.allowed[method]
	return ok
}

// Methods returns a sorted copy of the allow-list.
func (c Config) Methods() []string {
	out := make([]string, 0, len(c.allowed))
	for m := range c.allowed {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
