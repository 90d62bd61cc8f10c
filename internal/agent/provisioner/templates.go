package provisioner

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// templateVars feeds the workspace file templates.
type templateVars struct {
	AgentName      string
	Role           string
	BoardID        string
	BoardName      string
	Objective      string
	BaseURL        string
	AuthToken      string
	SessionKey     string
	Workspace      string
	UserName       string
	GatewayName    string
	HeartbeatEvery string
	IsLead         bool
}

// render executes the named template. A non-empty override replaces
// the embedded body, letting agents carry custom SOUL or IDENTITY
// templates.
func render(name, override string, vars templateVars) (string, error) {
	body := override
	if body == "" {
		raw, err := templateFS.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return "", fmt.Errorf("load template %s: %w", name, err)
		}
		body = string(raw)
	}
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out.String(), nil
}
