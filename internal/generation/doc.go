// Package generation turns normalized source text into one short-form artifact
// per call. It owns the prompt catalog (embedded YAML templates per format and
// tone), input truncation, and the pre-flight token estimate, and delegates
// the completion itself to an llm.Client.
package generation
