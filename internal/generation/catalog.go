package generation

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/llm"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// FormatPrompt is the catalog entry for one output format.
type FormatPrompt struct {
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type catalogFile struct {
	Tones   map[string]string       `yaml:"tones"`
	Formats map[string]FormatPrompt `yaml:"formats"`
}

type compiledPrompt struct {
	system      *template.Template
	user        *template.Template
	temperature float64
	maxTokens   int
}

// Catalog holds the compiled prompt templates for every format.
type Catalog struct {
	tones   map[domain.Tone]string
	formats map[domain.Format]compiledPrompt
}

// PromptData is what the templates see.
type PromptData struct {
	Tone      domain.Tone
	ToneGuide string
	Kind      domain.SourceKind
	Topics    []string
	Source    string
}

// Prompt is a rendered request for one format.
type Prompt struct {
	Messages    []llm.Message
	Temperature float64
	MaxTokens   int
}

// LoadCatalog parses the embedded prompt catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog parses and compiles a YAML catalog. Every output format and
// every tone must be present.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt catalog: %v", ErrInvalidConfig, err)
	}

	c := &Catalog{
		tones:   make(map[domain.Tone]string, len(domain.Tones)),
		formats: make(map[domain.Format]compiledPrompt, len(domain.Formats)),
	}

	for _, tone := range domain.Tones {
		guide := strings.TrimSpace(file.Tones[string(tone)])
		if guide == "" {
			return nil, fmt.Errorf("%w: no guide for tone %q", ErrInvalidConfig, tone)
		}
		c.tones[tone] = guide
	}

	funcs := template.FuncMap{"join": strings.Join}
	for _, format := range domain.Formats {
		entry, ok := file.Formats[string(format)]
		if !ok {
			return nil, fmt.Errorf("%w: no prompt for format %q", ErrInvalidConfig, format)
		}
		if entry.MaxTokens <= 0 {
			return nil, fmt.Errorf("%w: format %q needs max_tokens > 0", ErrInvalidConfig, format)
		}

		system, err := template.New(string(format) + ".system").
			Option("missingkey=error").Funcs(funcs).Parse(entry.System)
		if err != nil {
			return nil, fmt.Errorf("%w: format %q system template: %v", ErrInvalidConfig, format, err)
		}
		user, err := template.New(string(format) + ".user").
			Option("missingkey=error").Funcs(funcs).Parse(entry.User)
		if err != nil {
			return nil, fmt.Errorf("%w: format %q user template: %v", ErrInvalidConfig, format, err)
		}

		c.formats[format] = compiledPrompt{
			system:      system,
			user:        user,
			temperature: entry.Temperature,
			maxTokens:   entry.MaxTokens,
		}
	}
	return c, nil
}

// Render builds the system and user messages for format.
func (c *Catalog) Render(format domain.Format, data PromptData) (*Prompt, error) {
	p, ok := c.formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if data.ToneGuide == "" {
		data.ToneGuide = c.tones[data.Tone]
	}

	system, err := execute(p.system, data)
	if err != nil {
		return nil, err
	}
	user, err := execute(p.user, data)
	if err != nil {
		return nil, err
	}

	return &Prompt{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}, nil
}

func execute(t *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
