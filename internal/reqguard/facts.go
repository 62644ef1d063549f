package reqguard

import (
	"net/http"
	"strconv"
)

// UnknownLength marks a content length that was absent, unparsable or negative.
const UnknownLength int64 = -1

// Facts is the read-only view of a request that stages evaluate.
type Facts struct {
	Method string
	// ContentType is only meaningful when HasContentType is set.
	ContentType    string
	HasContentType bool
	ContentLength  int64
	// URI is the request path, used for logging only.
	URI string
}

// FactsFromRequest derives Facts from headers only, the body is never touched.
//
// The declared length comes from the Content-Length header when one was sent;
// an unparsable or negative header value is unknown. Without the header the
// request's own ContentLength is used when positive, so chunked or absent
// bodies stay unknown.
func FactsFromRequest(r *http.Request) Facts {
	f := Facts{
		Method:        r.Method,
		ContentLength: UnknownLength,
	}
	if f.Method == "" {
		f.Method = http.MethodGet
	}
	if r.URL != nil {
		f.URI = r.URL.Path
	}

	// a header sent with an empty value is present, and fails the media type check
	if vs, ok := r.Header["Content-Type"]; ok && len(vs) > 0 {
		f.ContentType = vs[0]
		f.HasContentType = true
	}

	if vs, ok := r.Header["Content-Length"]; ok && len(vs) > 0 {
		if n, err := strconv.ParseInt(vs[0], 10, 64); err == nil && n >= 0 {
			f.ContentLength = n
		}
	} else if r.ContentLength > 0 {
		f.ContentLength = r.ContentLength
	}
	return f
}

// LengthKnown reports whether a non-negative length was declared.
func (f Facts) LengthKnown() bool { return f.ContentLength >= 0 }

// DeclaresBody reports a declared length greater than zero.
func (f Facts) DeclaresBody() bool { return f.ContentLength > 0 }
