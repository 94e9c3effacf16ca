// Package redact strips credentials and other sensitive fragments from text
// before it is logged, persisted on a conversion, or returned to a caller.
//
// Secrets removes only credentials and keeps the message readable; it is used
// for provider errors that end up on a failed conversion. String additionally
// hides infrastructure details (paths, hosts, SQL) and is used for anything
// that may reach an HTTP response.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

// MaxMessageLength bounds messages produced by Message.
const MaxMessageLength = 500

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

var (
	// Credentials
	dbConnRegex    = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|redis|amqp)://[^@\s]+@`)
	bearerRegex    = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/=]{8,}`)
	openAIKeyRegex = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`)
	googleKeyRegex = regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`)
	queryKeyRegex  = regexp.MustCompile(`(?i)([?&](?:key|api_key|token|access_token)=)[^&\s"']+`)
	passwordRegex  = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex    = regexp.MustCompile(
		`(?i)(api[_-]?key|secret|x-goog-api-key|authorization)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)
	emailRegex    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Infrastructure details
	unixPathRegex   = regexp.MustCompile(`(/[\w.-]+){2,}`)
	stackTraceRegex = regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`)
	sqlRegex        = regexp.MustCompile(
		`(?i)\b(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)\b[\s\w,*()$]+\b(?:FROM|INTO|SET|TABLE)\b(?:[\s\w,*()='"$]+)?`,
	)
	hostPortRegex = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`,
	)

	// Order matters: composite credentials first, then generic key=value.
	secretRules = []rule{
		{dbConnRegex, RedactedCredentialPlaceholder},
		{jwtTokenRegex, "[REDACTED_JWT]"},
		{bearerRegex, "Bearer " + RedactedKeyPlaceholder},
		{openAIKeyRegex, RedactedKeyPlaceholder},
		{googleKeyRegex, RedactedKeyPlaceholder},
		{queryKeyRegex, "${1}" + RedactedKeyPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, "${1}${2}" + RedactedKeyPlaceholder},
		{emailRegex, "[REDACTED_EMAIL]"},
	}

	infraRules = []rule{
		{stackTraceRegex, "[STACK_TRACE_REDACTED]"},
		{sqlRegex, "[REDACTED_SQL]"},
		{unixPathRegex, RedactedPathPlaceholder},
		{hostPortRegex, "[REDACTED_HOST]"},
	}
)

func apply(input string, rules []rule) string {
	for _, r := range rules {
		input = r.re.ReplaceAllString(input, r.placeholder)
	}
	return input
}

// Secrets removes credentials from input and leaves everything else intact.
func Secrets(input string) string {
	if input == "" {
		return input
	}
	return apply(input, secretRules)
}

// String removes credentials and infrastructure details from input.
func String(input string) string {
	if input == "" {
		return input
	}
	return apply(apply(input, secretRules), infraRules)
}

// Error redacts err.Error() with String.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Message returns a single-line, credential-free rendering of err, bounded to
// MaxMessageLength. It is what gets stored as a conversion's failure message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(Secrets(err.Error())), " ")
	if len(msg) <= MaxMessageLength {
		return msg
	}
	cut := MaxMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}
