// Package report renders the final HTML deliverable the Reconciler
// persists to the blob store, per spec.md §4.F.
package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

//go:embed assets/report_template.html
var templateFS embed.FS

var tmpl = template.Must(template.ParseFS(templateFS, "assets/report_template.html"))

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

type pageData struct {
	Title    string
	Subtitle string
	DataJSON template.JS
}

// Render substitutes the template's `<script id="diy">` data island with
// the report's title, subtitle, and findings, returning the full HTML page.
func Render(title, subtitle string, entries []domain.ReportEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.ReportEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, domain.NewEncodingError("report", "marshal report data: "+err.Error())
	}

	var buf bytes.Buffer
	data := pageData{Title: title, Subtitle: subtitle, DataJSON: template.JS(raw)}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render report template: %w", err)
	}
	return buf.Bytes(), nil
}

// Slug derives the report's blob-key path segment from a project name:
// lowercase, any run of non-alphanumerics collapsed to one underscore,
// leading/trailing underscores trimmed.
func Slug(projectName string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(projectName), "_")
	return strings.Trim(s, "_")
}
