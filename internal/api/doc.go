// Package api exposes the conversion service over HTTP: job creation, the
// status poll, the usage view and the internal generation trigger. Handlers
// translate HTTP concerns to service calls and map errors to the JSON
// envelope {error, code, retry_after_seconds?, trace_id}.
package api
