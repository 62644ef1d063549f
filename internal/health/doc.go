// Package health holds liveness and readiness probes and the admin handlers
// that serve them.
//
// Probes compose with [All] and [Any]. [Gate] fails readiness as soon as
// the service starts draining, so a load balancer stops routing to it while
// in-flight permit requests finish.
package health
