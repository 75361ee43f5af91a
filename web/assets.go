package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed static/*
var StaticAssets embed.FS

//go:embed templates/*.html templates/pages/*.html
var TemplateAssets embed.FS

// GetStaticFS returns the embedded static filesystem
func GetStaticFS() fs.FS {
	static, err := fs.Sub(StaticAssets, "static")
	if err != nil {
		panic(err)
	}
	return static
}

// NewStaticHandler creates an HTTP handler for serving static assets
func NewStaticHandler() http.Handler {
	return http.FileServer(http.FS(GetStaticFS()))
}

// ParseTemplates builds one template set per page. Every set holds the layout and
// partials of templates/ plus a single page from templates/pages/ defining
// "content". Sets are keyed by page file name without extension.
func ParseTemplates(funcs template.FuncMap) (map[string]*template.Template, error) {
	layout, err := template.New("layout").Funcs(funcs).ParseFS(TemplateAssets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages, err := fs.Glob(TemplateAssets, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	sets := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		set, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", page, err)
		}
		if _, err := set.ParseFS(TemplateAssets, page); err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		sets[strings.TrimSuffix(path.Base(page), ".html")] = set
	}
	return sets, nil
}
