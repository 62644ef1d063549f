// Package reqguard is the inbound request validation pipeline that sits in
// front of every API handler.
//
// A Pipeline runs an ordered list of Stages against a per-request Facts view.
// Each Stage returns Continue or Reject. The first Reject stops evaluation,
// the Responder writes a small JSON body and the Auditor logs a WARN entry.
// When every stage continues the Auditor logs a single INFO entry and the
// request is forwarded to the next handler untouched.
//
// The default stage order is fixed:
//
//  1. MethodAllowlist   405 for methods outside the configured set
//  2. BodyPresence      400 for GET/DELETE declaring a body
//  3. HeaderValidation  400/415/400 for POST/PUT content-type and length
//  4. SizeLimit         413 for POST/PUT over the byte ceiling
//  5. HeadBody          400 for HEAD declaring a body
//
// Nothing in the package holds per-request state outside the call stack, so
// a single Pipeline is shared by all server goroutines.
package reqguard
