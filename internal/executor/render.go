package executor

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
)

// loadPrompts reads every file under dir, keyed by its base name without
// extension, so "main" (if present) is easy to pick out by key.
func loadPrompts(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	prompts := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		prompts[name] = string(data)
	}
	return prompts, nil
}

// primaryPrompt picks "main" if present, else the lexicographically first
// prompt name, matching stage 5's "main if present, else the first".
func primaryPrompt(prompts map[string]string) (string, string, bool) {
	if text, ok := prompts["main"]; ok {
		return "main", text, true
	}
	if len(prompts) == 0 {
		return "", "", false
	}
	names := make([]string, 0, len(prompts))
	for name := range prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], prompts[names[0]], true
}

func renderTemplate(name, text string, ctx map[string]any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", dperrors.NewTemplateRenderError(name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", dperrors.NewTemplateRenderError(name, err)
	}
	return buf.String(), nil
}

func renderTemplateFile(path string, ctx map[string]any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", dperrors.NewTemplateRenderError(filepath.Base(path), err)
	}
	return renderTemplate(filepath.Base(path), string(data), ctx)
}
