// Package events decouples the admission path from the work it triggers.
//
// The service layer emits an Event when a conversion is admitted or a user
// crosses the low-usage threshold. Handlers registered on the emitter turn
// those events into orchestrator dispatches and notifications, so the
// service never imports the task or notification packages directly.
//
// The primary components are:
//   - Event: a typed message with a JSON payload
//   - EventHandler / HandlerFunc: consumers of events
//   - InMemoryEventEmitter: synchronous fan-out to subscribed handlers
package events
