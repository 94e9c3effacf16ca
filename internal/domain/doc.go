// Package domain holds the conversion, output and usage entities, the fixed
// vocabularies (source kinds, tones, formats) and the error classes surfaced
// to callers.
package domain
