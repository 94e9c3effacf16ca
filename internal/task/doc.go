// Package task runs conversion generation in the background.
//
// The Orchestrator drives one conversion through pending, processing and a
// terminal state, generating each output format in order with fixed pacing
// and a bounded retry budget for rate-limited calls. A Dispatcher starts one
// detached goroutine per conversion; an HTTPTrigger instead asks a server
// instance to run it through the internal trigger endpoint. The Reaper fails
// conversions stuck in processing and re-dispatches pending ones whose
// trigger was lost.
package task
