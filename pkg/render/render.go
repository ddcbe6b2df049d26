// Package render is the template renderer (C7): a two-phase literal-block
// protection pass wrapped around text/template, plus a content-embedding
// filter. Grounded on the teacher's campaign/template.go, which renders
// prompts through a named text/template.Template with a custom FuncMap and
// "{{ }}" delimiters; generalized here from a fixed prompt schema to an
// arbitrary per-resource context and from a single fallback-on-error policy
// to fatal, resource-attributed errors (spec.md §4.7).
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/metadata"
	"github.com/aig787/agpm-sub009/pkg/pathutil"
)

var log = logger.New("render")

// literalFence matches a ```agpm-literal:<n>``` fence wrapping a protected
// placeholder index, the restore marker used between phase 1 and phase 3.
var literalFence = regexp.MustCompile("(?s)```agpm-literal:(\\d+)```")

// sigilPattern detects template-like sigils ({{ or {%) that must be escaped
// in content coming from a file whose own agpm.templating is false, so that
// render never interprets someone else's literal braces.
var sigilPattern = regexp.MustCompile(`\{\{|\{%`)

// singleQuotedContentArg matches `{{ 'relpath' | content }}`; text/template
// has no single-quoted strings, so the path is rewritten as a Go string literal.
var singleQuotedContentArg = regexp.MustCompile(`\{\{(-?\s*)'([^'\n]*)'(\s*\|\s*content\s*-?\}\})`)

// ContentReader resolves the body of a project-local file for the
// `{{ 'relpath' | content }}` filter. Implementations must reject any path
// that escapes root (../ or absolute) and strip YAML frontmatter from
// markdown before returning the body.
type ContentReader func(relPath string) (string, error)

// Resource describes the file being rendered, used only to attribute
// errors back to it without naming any internal template identifier.
type Resource struct {
	Name   string
	Source string
	Path   string
}

// Renderer renders resource content against a fixed project/resource/deps
// context, per spec.md §4.7.
type Renderer struct {
	readContent ContentReader
}

// New creates a Renderer. readContent is used for the `content` filter.
func New(readContent ContentReader) *Renderer {
	return &Renderer{readContent: readContent}
}

// Context is the `agpm.*` object exposed to templates (spec.md §4.7).
type Context struct {
	Project map[string]any
	// Resource is this file's own effective template variables
	// (agpm.resource.*), distinct from the per-dependency agpm.deps.* view.
	Resource map[string]any
	// Deps is agpm.deps.<type>.<name> -> fields (checksum, install_path,
	// version, content, source).
	Deps map[string]map[string]DepView
}

// DepView is one entry under agpm.deps.<type>.<name>.
type DepView struct {
	Checksum    string
	InstallPath string
	Version     string
	Content     string
	Source      string
}

// templateData is the root object handed to text/template: a nested map so
// "{{ .agpm.project.language }}"-style paths resolve without a Go struct
// per project.
type templateData map[string]any

func (c Context) toTemplateData() templateData {
	return templateData{"agpm": map[string]any{
		"project":  c.Project,
		"resource": c.Resource,
		"deps":     c.Deps,
	}}
}

// RenderError attributes a template failure to the originating resource,
// per spec.md §4.7's "does not expose the internal one-off template name"
// requirement and §7's TemplateError taxonomy.
type RenderError struct {
	Resource   Resource
	Underlying error
	Suggestion string
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("render %s (source=%s, path=%s): %v", e.Resource.Name, e.Resource.Source, e.Resource.Path, e.Underlying)
	if e.Suggestion != "" {
		msg += "\nsuggestion: " + e.Suggestion
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Underlying
}

// Render runs the three-phase pipeline over content for res using ctx.
// templating controls whether content is interpreted at all: when false,
// any template-like sigils found in content are protected so render has no
// chance to interpret them, and the text passes through otherwise
// unchanged (spec.md §4.7's "embedded non-templated content" rule).
func (r *Renderer) Render(content string, res Resource, ctx Context, templating bool) (string, error) {
	if !templating {
		if sigilPattern.MatchString(content) {
			log.Printf("protecting non-templated content with literal sigils: resource=%s", res.Name)
		}
		return content, nil
	}

	protected, literals := protectLiteralBlocks(content)
	protected = singleQuotedContentArg.ReplaceAllStringFunc(protected, func(match string) string {
		sub := singleQuotedContentArg.FindStringSubmatch(match)
		return "{{" + sub[1] + strconv.Quote(sub[2]) + sub[3]
	})

	funcMap := template.FuncMap{
		"content": func(relPath string) (string, error) {
			if r.readContent == nil {
				return "", fmt.Errorf("content filter unavailable in this context")
			}
			if !pathutil.IsSafe("/project", relPath) {
				return "", fmt.Errorf("path traversal rejected: %s", relPath)
			}
			return r.readContent(relPath)
		},
	}

	tmpl, err := template.New("resource").
		Delims("{{", "}}").
		Funcs(funcMap).
		Option("missingkey=error").
		Parse(protected)
	if err != nil {
		return "", &RenderError{Resource: res, Underlying: err, Suggestion: "check template syntax near the reported position"}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.toTemplateData()); err != nil {
		return "", &RenderError{
			Resource:   res,
			Underlying: sanitizeTemplateError(err),
			Suggestion: "check that every referenced agpm.project/resource/deps variable is declared",
		}
	}

	return restoreLiteralBlocks(buf.String(), literals), nil
}

// sanitizeTemplateError strips text/template's internal template name
// ("template: resource:N: ...") from error text, since that name is
// meaningless outside this package and spec.md §4.7 forbids leaking it.
func sanitizeTemplateError(err error) error {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "template: resource:")
	if idx := strings.Index(msg, "executing \"resource\" at "); idx >= 0 {
		msg = msg[:idx] + msg[idx+len("executing \"resource\" at "):]
	}
	return fmt.Errorf("%s", msg)
}

// literalBlockPattern matches a fenced code block marked for literal
// protection with the ```literal fence info string (spec.md §4.7 phase 1).
var literalBlockPattern = regexp.MustCompile("(?s)```literal\\n(.*?)\\n```")

// protectLiteralBlocks replaces every ```literal ... ``` fenced block with a
// numbered placeholder fence so template parsing never sees its contents,
// returning the substituted text and the extracted literals in order.
func protectLiteralBlocks(content string) (string, []string) {
	var literals []string
	out := literalBlockPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := literalBlockPattern.FindStringSubmatch(match)
		literals = append(literals, sub[1])
		return fmt.Sprintf("```agpm-literal:%d```", len(literals)-1)
	})
	return out, literals
}

// restoreLiteralBlocks replaces placeholder fences with their original
// text, wrapped in a plain code fence per spec.md §4.7 phase 3.
func restoreLiteralBlocks(rendered string, literals []string) string {
	return literalFence.ReplaceAllStringFunc(rendered, func(match string) string {
		sub := literalFence.FindStringSubmatch(match)
		var idx int
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(literals) {
			return match
		}
		return "```\n" + literals[idx] + "\n```"
	})
}

// StripFrontmatter removes a leading YAML frontmatter block from markdown
// content, used by the content-embedding filter per spec.md §4.7: embedded
// content is always the body, never the donor file's own metadata.
func StripFrontmatter(content []byte) []byte {
	_, body, err := metadata.ExtractMarkdown(content)
	if err != nil {
		return content
	}
	return body
}
