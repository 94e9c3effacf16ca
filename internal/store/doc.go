// Package store defines the persistence contracts for conversions, their
// generated outputs and the per-user usage counter. Admission writes the
// counter and the conversion in one unit of work through TxRunner; the
// orchestrator only ever moves a conversion forward with conditional updates.
package store
