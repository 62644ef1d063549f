// Package httpmw holds the HTTP middleware shared by the public API server
// and the admin server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, OTel, trace response
// headers, metrics, the request logger, and then the chi router which runs
// route annotation, the access log, the request guard and MaxBody before the
// permit handlers.
//
// Query strings, user agents and other client-supplied headers are kept out
// of log fields.
package httpmw
