package templates

import "embed"

// TemplateFS holds the embedded HTML templates.
//
//go:embed *.html
var TemplateFS embed.FS
