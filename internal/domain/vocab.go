package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SourceKind identifies which input adapter normalises a request.
type SourceKind string

// Supported source kinds
const (
	SourceKindVideo   SourceKind = "video"
	SourceKindArticle SourceKind = "article"
	SourceKindText    SourceKind = "text"
)

// Valid reports whether k is one of the supported source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindVideo, SourceKindArticle, SourceKindText:
		return true
	default:
		return false
	}
}

// Tone is the writing register requested for the generated artifacts.
type Tone string

// Supported tones
const (
	ToneCasual      Tone = "casual"
	ToneProfesional Tone = "profesional"
	ToneTecnico     Tone = "tecnico"
	ToneInspirador  Tone = "inspirador"
	ToneHumoristico Tone = "humoristico"
)

// Tones lists every accepted tone.
var Tones = []Tone{ToneCasual, ToneProfesional, ToneTecnico, ToneInspirador, ToneHumoristico}

// Valid reports whether t is one of the supported tones.
func (t Tone) Valid() bool {
	for _, known := range Tones {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTone normalises user input (case, surrounding space, diacritics) and
// returns the matching Tone. "Técnico" and "TECNICO" both map to ToneTecnico.
func ParseTone(raw string) (Tone, bool) {
	t := Tone(foldText(raw))
	return t, t.Valid()
}

// foldText lower-cases s and strips combining marks.
func foldText(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(chain, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Format is one of the fixed short-form output shapes.
type Format string

// Output formats. Formats lists them in generation order.
const (
	FormatXThread      Format = "x_thread"
	FormatLinkedInPost Format = "linkedin_post"
	FormatCarousel     Format = "carousel"
)

// Formats is the fixed generation order. Outputs are produced and persisted in
// exactly this order.
var Formats = []Format{FormatXThread, FormatLinkedInPost, FormatCarousel}

// Valid reports whether f is one of the fixed output formats.
func (f Format) Valid() bool {
	return f.Index() >= 0
}

// Index returns the position of f in the generation order, or -1.
func (f Format) Index() int {
	for i, known := range Formats {
		if f == known {
			return i
		}
	}
	return -1
}

// Topic limits
const (
	MaxTopics      = 5
	MaxTopicLength = 60
)
