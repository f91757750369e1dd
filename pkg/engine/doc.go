// Package engine drives a recruitment run from its State to a parked or final
// outcome.
//
// router.go   - ordered rule chain and the gated fallback
// fallback.go - fallback decision sources (static, supervisor completion)
// executor.go - step-bounded loop dispatching work units, tracing each step
// service.go  - run lifecycle (start, authorized resume) and hot reload
//
// Work units live in the handlers subpackage; their shared result contract is
// in runtime.
package engine
