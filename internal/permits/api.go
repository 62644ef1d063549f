package permits

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/httpmw"
	"github.com/permittrack/permit-api/internal/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// API serves /permits. It implements the route registrar used by httpserver.
type API struct {
	store Store
	now   func() time.Time
}

func NewAPI(store Store) *API {
	return &API{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterRoutes mounts the permit endpoints on r.
func (api *API) RegisterRoutes(r chi.Router) {
	r = r.With(httpmw.Scope("permits"))
	r.Head("/permits", api.head)
	r.Post("/permits", api.create)
	r.Get("/permits", api.list)
	r.Get("/permits/{id}", api.get)
	r.Put("/permits/{id}", api.update)
	r.Delete("/permits/{id}", api.delete)
}

// head answers reachability probes with 200 and no body.
func (api *API) head(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (api *API) create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	p, err := api.store.Create(r.Context(), newPermit(req, api.now()))
	if err != nil {
		storeFailure(w, r, err, "create permit")
		return
	}
	log.FromContext(r.Context()).Info(r.Context(), "permit created", "permit_id", p.ID.String())
	_ = httpjson.Write(w, http.StatusOK, p)
}

// list returns every permit, or one page of them when ?page is given.
// Pages are zero-based; ?size defaults to 50 and is capped at 200.
func (api *API) list(w http.ResponseWriter, r *http.Request) {
	page, size, bad := pagination(r)
	if bad != "" {
		_ = httpjson.Error(w, http.StatusBadRequest, "Invalid parameter: "+bad)
		return
	}
	all, err := api.store.List(r.Context())
	if err != nil {
		storeFailure(w, r, err, "list permits")
		return
	}
	if page >= 0 {
		// compare before multiplying, page can be near MaxInt
		if page > len(all)/size {
			all = all[:0]
		} else {
			start := min(page*size, len(all))
			all = all[start:min(start+size, len(all))]
		}
	}
	_ = httpjson.Write(w, http.StatusOK, all)
}

func (api *API) get(w http.ResponseWriter, r *http.Request) {
	id, ok := permitID(w, r)
	if !ok {
		return
	}
	p, err := api.store.Get(r.Context(), id)
	if err != nil {
		storeFailure(w, r, err, "get permit")
		return
	}
	_ = httpjson.Write(w, http.StatusOK, p)
}

func (api *API) update(w http.ResponseWriter, r *http.Request) {
	id, ok := permitID(w, r)
	if !ok {
		return
	}
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	p, err := api.store.Update(r.Context(), id, func(p *Permit) { p.apply(req) })
	if err != nil {
		storeFailure(w, r, err, "update permit")
		return
	}
	_ = httpjson.Write(w, http.StatusOK, p)
}

func (api *API) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := permitID(w, r)
	if !ok {
		return
	}
	// deleting an unknown id is still 204
	if err := api.store.Delete(r.Context(), id); err != nil && !errors.Is(err, ErrNotFound) {
		storeFailure(w, r, err, "delete permit")
		return
	}
	log.FromContext(r.Context()).Info(r.Context(), "permit deleted", "permit_id", id.String())
	w.WriteHeader(http.StatusNoContent)
}

// permitID writes 404 "Invalid UUID" when the path id does not parse.
func permitID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = httpjson.Error(w, http.StatusNotFound, "Invalid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	err := json.NewDecoder(r.Body).Decode(&req)
	if err == nil {
		return req, true
	}

	var typeErr *json.UnmarshalTypeError
	switch {
	case httpmw.IsBodyTooLarge(err):
		_ = httpjson.Error(w, http.StatusRequestEntityTooLarge, "Invalid request", "Request payload exceeds 2 MB limit")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		_ = httpjson.Error(w, http.StatusBadRequest, "Invalid request",
			fmt.Sprintf("Invalid value type %s for field: %s", typeErr.Value, typeErr.Field))
	default:
		_ = httpjson.Error(w, http.StatusBadRequest, "Invalid request", "Malformed JSON or unsupported value")
	}
	return Request{}, false
}

func storeFailure(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, ErrNotFound) {
		_ = httpjson.Error(w, http.StatusNotFound, "Permit not found with id "+chi.URLParam(r, "id"))
		return
	}
	log.FromContext(r.Context()).Error(r.Context(), err, op)
	_ = httpjson.Error(w, http.StatusInternalServerError, "Internal server error")
}

// pagination returns page -1 when no page was requested, and the name of
// the offending parameter when one does not parse.
func pagination(r *http.Request) (page, size int, bad string) {
	q := r.URL.Query()
	page, size = -1, defaultPageSize
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, "page"
		}
		page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, "size"
		}
		size = min(n, maxPageSize)
	}
	return page, size, ""
}
