package permits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
)

var fixedNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func newTestAPI(store Store) http.Handler {
	api := NewAPI(store)
	api.now = func() time.Time { return fixedNow }
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreate_Defaults(t *testing.T) {
	store := NewMemStore()
	h := newTestAPI(store)

	rec := do(h, http.MethodPost, "/permits",
		`{"permitName":"Fence","applicantName":"J. Park","permitType":"ZONING","status":"APPROVED"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != httpjson.ContentType {
		t.Errorf("Content-Type = %q", got)
	}

	p := decode[Permit](t, rec)
	if p.ID == uuid.Nil {
		t.Error("id not assigned")
	}
	if p.Status != StatusSubmitted {
		t.Errorf("status = %q, want SUBMITTED regardless of request", p.Status)
	}
	if !p.SubmittedDate.Equal(fixedNow) {
		t.Errorf("submittedDate = %v", p.SubmittedDate)
	}
	if p.PermitName != "Fence" || p.ApplicantName != "J. Park" || p.PermitType != "ZONING" {
		t.Errorf("fields = %+v", p)
	}
	if store.Len() != 1 {
		t.Errorf("stored = %d", store.Len())
	}
}

func TestCreate_EmptyObject(t *testing.T) {
	rec := do(newTestAPI(NewMemStore()), http.MethodPost, "/permits", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreate_BadBodies(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"permitName":`, `{"error":"Invalid request","details":["Malformed JSON or unsupported value"]}`},
		{"not an object", `[1,2]`, `{"error":"Invalid request","details":["Malformed JSON or unsupported value"]}`},
		{"empty", ``, `{"error":"Invalid request","details":["Malformed JSON or unsupported value"]}`},
		{"wrong type", `{"permitName":42}`, `{"error":"Invalid request","details":["Invalid value type number for field: permitName"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/permits", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			newTestAPI(NewMemStore()).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tc.want {
				t.Fatalf("body = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCreate_BodyOverLimit(t *testing.T) {
	h := httpmw.MaxBody(16)(newTestAPI(NewMemStore()))
	body := `{"permitName":"` + strings.Repeat("x", 64) + `"}`

	rec := do(h, http.MethodPost, "/permits", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	want := `{"error":"Invalid request","details":["Request payload exceeds 2 MB limit"]}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("body = %s", got)
	}
}

func TestHead(t *testing.T) {
	rec := do(newTestAPI(NewMemStore()), http.MethodHead, "/permits", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("HEAD = %d with %d body bytes", rec.Code, rec.Body.Len())
	}
}

func TestGetUpdateDelete(t *testing.T) {
	h := newTestAPI(NewMemStore())
	created := decode[Permit](t, do(h, http.MethodPost, "/permits", `{"permitName":"Shed","applicantName":"A","permitType":"BUILDING"}`))
	path := "/permits/" + created.ID.String()

	rec := do(h, http.MethodGet, path, "")
	if rec.Code != http.StatusOK || decode[Permit](t, rec) != created {
		t.Fatalf("GET = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodPut, path, `{"permitName":"Shed 2","applicantName":"B","permitType":"ELECTRICAL","status":"REVIEW"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d %s", rec.Code, rec.Body)
	}
	up := decode[Permit](t, rec)
	if up.PermitName != "Shed 2" || up.ApplicantName != "B" || up.PermitType != "ELECTRICAL" || up.Status != StatusReview {
		t.Fatalf("updated = %+v", up)
	}
	if up.ID != created.ID || !up.SubmittedDate.Equal(created.SubmittedDate) {
		t.Fatal("id/submittedDate changed on update")
	}

	rec = do(h, http.MethodPut, path, `{"permitName":"Shed 3"}`)
	if got := decode[Permit](t, rec).Status; got != StatusReview {
		t.Fatalf("status without a requested change = %q, want REVIEW", got)
	}

	rec = do(h, http.MethodDelete, path, "")
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("DELETE = %d %q", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, path, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete = %d", rec.Code)
	}
}

func TestNotFoundAndInvalidID(t *testing.T) {
	h := newTestAPI(NewMemStore())
	missing := uuid.New().String()

	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		body := ""
		if m == http.MethodPut {
			body = `{}`
		}

		if m != http.MethodDelete {
			rec := do(h, m, "/permits/"+missing, body)
			want := `{"error":"Permit not found with id ` + missing + `"}`
			if rec.Code != http.StatusNotFound || strings.TrimSpace(rec.Body.String()) != want {
				t.Errorf("%s missing = %d %s", m, rec.Code, rec.Body)
			}
		}

		rec := do(h, m, "/permits/not-a-uuid", body)
		if rec.Code != http.StatusNotFound || strings.TrimSpace(rec.Body.String()) != `{"error":"Invalid UUID"}` {
			t.Errorf("%s invalid = %d %s", m, rec.Code, rec.Body)
		}
	}
}

func TestList_Pagination(t *testing.T) {
	store := NewMemStore()
	for i := 0; i < 5; i++ {
		_, _ = store.Create(context.Background(), Permit{SubmittedDate: fixedNow.Add(time.Duration(i) * time.Minute)})
	}
	h := newTestAPI(store)

	cases := []struct {
		target string
		status int
		n      int
	}{
		{"/permits", 200, 5},
		{"/permits?page=0&size=2", 200, 2},
		{"/permits?page=2&size=2", 200, 1},
		{"/permits?page=9&size=2", 200, 0},
		{"/permits?size=1000&page=0", 200, 5},
		{"/permits?page=-1", 400, 0},
		{"/permits?page=abc", 400, 0},
		{"/permits?page=0&size=0", 400, 0},
	}
	for _, tc := range cases {
		rec := do(h, http.MethodGet, tc.target, "")
		if rec.Code != tc.status {
			t.Errorf("%s = %d, want %d", tc.target, rec.Code, tc.status)
			continue
		}
		if tc.status == 200 {
			if got := len(decode[[]Permit](t, rec)); got != tc.n {
				t.Errorf("%s returned %d permits, want %d", tc.target, got, tc.n)
			}
		}
	}

	rec := do(h, http.MethodGet, "/permits?page=x", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"Invalid parameter: page"}` {
		t.Errorf("body = %s", got)
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	rec := do(newTestAPI(NewMemStore()), http.MethodGet, "/permits", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %s, want []", got)
	}
}

type failingStore struct{ Store }

func (failingStore) List(context.Context) ([]Permit, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailure_Is500AndLogged(t *testing.T) {
	rec := log.NewRecorder()
	h := newTestAPI(failingStore{Store: NewMemStore()})

	req := httptest.NewRequest(http.MethodGet, "/permits", nil)
	req = req.WithContext(log.WithContext(req.Context(), rec))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("disk on fire")) {
		t.Fatal("store error leaked to the client")
	}
	entries := rec.Entries()
	if len(entries) != 1 || entries[0].Msg != "list permits" || entries[0].Err == nil {
		t.Fatalf("entries = %+v", entries)
	}
	if v, _ := entries[0].Field("handler"); v != "permits" {
		t.Fatalf("handler field = %v", v)
	}
}

func TestDelete_UnknownIDIsNoContent(t *testing.T) {
	rec := do(newTestAPI(NewMemStore()), http.MethodDelete, "/permits/"+uuid.New().String(), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

type deleteFailingStore struct{ Store }

func (deleteFailingStore) Delete(context.Context, uuid.UUID) error { return errors.New("disk on fire") }

func TestDelete_StoreErrorIs500(t *testing.T) {
	rec := do(newTestAPI(deleteFailingStore{Store: NewMemStore()}), http.MethodDelete, "/permits/"+uuid.New().String(), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestList_PageBeyondRange(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Create(context.Background(), newPermit(Request{PermitName: "Deck"}, fixedNow)); err != nil {
		t.Fatal(err)
	}
	h := newTestAPI(store)

	for _, q := range []string{"page=9223372036854775807&size=2", "page=4611686018427387904&size=200", "page=1&size=1", "page=7"} {
		rec := do(h, http.MethodGet, "/permits?"+q, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d body %s", q, rec.Code, rec.Body)
		}
		if got := decode[[]Permit](t, rec); len(got) != 0 {
			t.Fatalf("%s: got %d permits, want an empty page", q, len(got))
		}
	}
}
