package reqguard

import (
	"net/http"
	"reflect"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.MaxBodyBytes() != 2*1024*1024 {
		t.Fatalf("MaxBodyBytes = %d, want %d", c.MaxBodyBytes(), 2*1024*1024)
	}
	want := []string{"DELETE", "GET", "HEAD", "POST", "PUT"}
	if got := c.Methods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Methods = %v, want %v", got, want)
	}
	for _, m := range []string{http.MethodPatch, http.MethodOptions, http.MethodTrace, http.MethodConnect, "get"} {
		if c.Allows(m) {
			t.Errorf("Allows(%q) = true", m)
		}
	}
}

func TestNewConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		max     int64
		methods []string
	}{
		{"zero limit", 0, []string{"GET"}},
		{"negative limit", -1, []string{"GET"}},
		{"no methods", 10, nil},
		{"empty method", 10, []string{"GET", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfig(tt.max, tt.methods...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestConfig_MethodsIsACopy(t *testing.T) {
	c := DefaultConfig()
	m := c.Methods()
	m[0] = "PATCH"
	if c.Allows("PATCH") {
		t.Fatal("mutating Methods() result leaked into Config")
	}
}

func TestConfig_ZeroValueAllowsNothing(t *testing.T) {
	var c Config
	if c.Allows(http.MethodGet) {
		t.Fatal("zero Config should allow nothing")
	}
}
