// Package render produces agent enrollment scripts from embedded
// templates. Operators paste the rendered script on a device to install
// and register the agent with a token.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// EnrollParams feeds the enrollment script templates.
type EnrollParams struct {
	APIBaseURL string
	Token      string
}

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates.
func New() (*Engine, error) {
	t, err := template.New("render").ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// EnrollScript renders the enrollment script for the given os type.
// Windows flavours get a PowerShell script, everything else a POSIX
// shell script.
func (e *Engine) EnrollScript(osType string, params EnrollParams) (string, error) {
	name := "enroll_posix.tmpl"
	if osType == "windows" || osType == "windows_server" {
		name = "enroll_windows.tmpl"
	}
	return e.render(name, params)
}

func (e *Engine) render(name string, data any) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("nil engine")
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
