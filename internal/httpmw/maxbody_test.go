package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func readAll(t *testing.T, limit int64, body string) (string, error) {
	t.Helper()
	var got string
	var rerr error
	h := MaxBody(limit)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		got, rerr = string(b), err
	}))
	do(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return got, rerr
}

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		body    string
		wantErr bool
	}{
		{"under", 10, "hello", false},
		{"exactly", 5, "hello", false},
		{"over", 4, "hello", true},
		{"empty", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readAll(t, tt.limit, tt.body)
			if tt.wantErr {
				if !IsBodyTooLarge(err) {
					t.Fatalf("err = %v, want MaxBytesError", err)
				}
				return
			}
			if err != nil || got != tt.body {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
}

func TestMaxBody_NoBodyUntouched(t *testing.T) {
	var body io.ReadCloser
	h := MaxBody(1)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { body = r.Body }))
	do(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if body != http.NoBody {
		t.Fatalf("body = %T, want http.NoBody", body)
	}
}

func TestIsBodyTooLarge(t *testing.T) {
	if IsBodyTooLarge(errors.New("x")) || IsBodyTooLarge(nil) {
		t.Fatal("false positive")
	}
	wrapped := errors.Join(errors.New("decode"), &http.MaxBytesError{Limit: 3})
	if !IsBodyTooLarge(wrapped) {
		t.Fatal("wrapped MaxBytesError not detected")
	}
}
