// Package service contains the application use cases that sit between the
// HTTP API and the stores.
//
// Key components:
//
//   - AdmissionService: validates a conversion request, applies the rate
//     limit and the monthly quota, normalizes the source and creates the
//     pending conversion. Creation and the usage increment share one
//     transaction; the generation trigger and the low-usage notice are
//     emitted as events and never fail the admission call.
//   - UsageAccountant: resolves plans, reads usage snapshots and reserves a
//     quota slot with a conditional increment.
//   - StatusService: the pure read model polled by clients.
//   - Notifiers: deliver the low-usage notice (log or webhook).
//
// The service layer depends on domain entities and store interfaces, never on
// specific infrastructure implementations.
package service
