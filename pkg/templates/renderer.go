// Package templates renders message templates. Placeholders are written as
// {{ expression }} where expression is a JMESPath query over Data.
package templates

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Rendered is the channel-ready output of a template.
type Rendered struct {
	Channel models.Channel `json:"channel"`
	Subject *string        `json:"subject,omitempty"`
	Body    string         `json:"content"`
}

type Renderer struct {
	evaluator *Evaluator
}

func NewRenderer(evaluator *Evaluator) *Renderer {
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	return &Renderer{evaluator: evaluator}
}

// Render resolves every placeholder of tmpl against data. A placeholder that
// resolves to nothing fails the render with a ValidationError naming it.
// Email bodies are HTML and have substituted values escaped.
func (r *Renderer) Render(tmpl models.MessageTemplate, data Data) (Rendered, error) {
	values := data.ToMap()
	escape := tmpl.Channel == models.ChannelEmail

	body, err := r.render(tmpl.Body, values, escape)
	if err != nil {
		return Rendered{}, err
	}

	out := Rendered{Channel: tmpl.Channel, Body: body}
	if tmpl.Subject != nil {
		subject, err := r.render(*tmpl.Subject, values, false)
		if err != nil {
			return Rendered{}, err
		}
		out.Subject = &subject
	}

	return out, nil
}

func (r *Renderer) render(text string, values map[string]any, escape bool) (string, error) {
	var firstErr error

	result := templatePattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		submatch := templatePattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}

		expression := strings.TrimSpace(submatch[1])
		value, ok, err := r.evaluator.EvaluateString(expression, values)
		if err != nil {
			firstErr = apperrors.NewValidationError(expression, "%v", err)
			return match
		}
		if !ok {
			firstErr = apperrors.NewValidationError(expression, "no value for placeholder")
			return match
		}
		if escape {
			return html.EscapeString(value)
		}
		return value
	})

	return result, firstErr
}

// Validate checks that every placeholder in tmpl compiles.
func (r *Renderer) Validate(tmpl models.MessageTemplate) error {
	texts := []string{tmpl.Body}
	if tmpl.Subject != nil {
		texts = append(texts, *tmpl.Subject)
	}
	for _, text := range texts {
		for _, expression := range ExtractExpressions(text) {
			if err := r.evaluator.Validate(expression); err != nil {
				return fmt.Errorf("template %s: invalid placeholder %q: %w", tmpl.Name, expression, err)
			}
		}
	}
	return nil
}

// HasTemplates checks if a string contains placeholders
func HasTemplates(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractExpressions extracts all placeholder expressions from a string
func ExtractExpressions(text string) []string {
	matches := templatePattern.FindAllStringSubmatch(text, -1)
	expressions := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) >= 2 {
			expressions = append(expressions, strings.TrimSpace(match[1]))
		}
	}

	return expressions
}
