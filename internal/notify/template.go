package notify

import (
	"strings"
	"text/template"
)

const defaultTemplate = "Sensor {{.Sensor}} flagged as temperature outlier at {{.At}} (run {{.RunID}})"

// TemplateData is the data available to alert templates.
type TemplateData struct {
	Sensor string
	RunID  string
	At     string
}

// Template renders alert content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template; an empty string selects the
// default message.
func NewTemplate(text string) (*Template, error) {
	if text == "" {
		text = defaultTemplate
	}
	tpl, err := template.New("alert").Parse(text)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: tpl}, nil
}

// Render renders the template with the given data.
func (t *Template) Render(data TemplateData) (string, error) {
	var sb strings.Builder
	if err := t.tpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
