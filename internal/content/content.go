// Package content manages the directory the study app's static files and
// theme documents are served from, optionally kept in sync with a Git
// repository.
package content

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/conorfennell/ergoquiz/internal/gitsource"
)

// MainDocument is the catalog file relative to the content root.
const MainDocument = "data/theme-main.json"

// Config locates the content.
type Config struct {
	// Dir is the content root.
	Dir string
	// GitURL, when set, is cloned or pulled into the content root by Sync.
	GitURL string
	// Branch optionally pins the checked out branch.
	Branch string
	// CheckoutRoot holds one checkout per repository. It derives the
	// content root from GitURL when Dir is empty.
	CheckoutRoot string
}

// Root returns the content root.
func (c Config) Root() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	if c.GitURL == "" || c.CheckoutRoot == "" {
		return "", fmt.Errorf("content root needs a dir or a git URL with a checkout root")
	}
	return gitsource.LocalPath(c.CheckoutRoot, c.GitURL)
}

// Report is the outcome of a reconciliation.
type Report struct {
	Themes        int      `json:"themes"`
	Questions     int      `json:"questions"`
	MissingThemes []string `json:"missingThemes"`
	InvalidThemes []string `json:"invalidThemes"`
	Orphaned      []string `json:"orphaned"`
	MissingAssets []string `json:"missingAssets"`
}

// OK reports whether every declared theme and asset is present.
func (r Report) OK() bool {
	return len(r.MissingThemes) == 0 && len(r.InvalidThemes) == 0 && len(r.MissingAssets) == 0
}

// Handler serves the content root. Explicit index.html paths are served
// in place; http.FileServer alone would redirect them to the directory.
func Handler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/index.html") {
			r = r.Clone(r.Context())
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "index.html")
		}
		files.ServeHTTP(w, r)
	})
}

// Sync updates the Git checkout when one is configured, then reconciles
// the content root against its catalog and the asset manifest.
func Sync(ctx context.Context, cfg Config, manifest []string) (Report, error) {
	root, err := cfg.Root()
	if err != nil {
		return Report{}, err
	}
	slog.Info("starting content sync", "dir", root, "git_url", cfg.GitURL)
	if cfg.GitURL != "" {
		if _, err := gitsource.Sync(ctx, cfg.GitURL, root, gitsource.Options{Branch: cfg.Branch}); err != nil {
			return Report{}, err
		}
	}
	return Reconcile(root, manifest)
}

// Reconcile checks that every theme declared by the catalog has a
// readable question document and that every manifest path exists. JSON
// files under data/ that no theme references are reported as orphaned.
func Reconcile(root string, manifest []string) (Report, error) {
	report := Report{
		MissingThemes: []string{},
		InvalidThemes: []string{},
		Orphaned:      []string{},
		MissingAssets: []string{},
	}

	main, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(MainDocument)))
	if err != nil {
		return report, fmt.Errorf("failed to read catalog: %w", err)
	}
	if !gjson.ValidBytes(main) {
		return report, fmt.Errorf("catalog %s is not valid JSON", MainDocument)
	}

	referenced := map[string]bool{MainDocument: true}
	for _, theme := range gjson.GetBytes(main, "themes").Array() {
		report.Themes++
		id := theme.Get("id").String()
		rel, ok := themeDocument(theme)
		if !ok {
			slog.Warn("theme declares no document", "theme", id)
			report.MissingThemes = append(report.MissingThemes, id)
			continue
		}
		referenced[rel] = true

		doc, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			slog.Warn("theme document missing", "theme", id, "path", rel)
			report.MissingThemes = append(report.MissingThemes, id)
			continue
		}
		n, ok := countQuestions(doc)
		if !ok {
			slog.Warn("theme document is invalid", "theme", id, "path", rel)
			report.InvalidThemes = append(report.InvalidThemes, id)
			continue
		}
		report.Questions += n
	}

	for _, asset := range manifest {
		p := strings.TrimPrefix(asset, "/")
		if p == "" || strings.HasSuffix(p, "/") {
			p += "index.html"
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
			slog.Warn("manifest asset missing", "asset", asset)
			report.MissingAssets = append(report.MissingAssets, asset)
		}
	}

	dataDir := filepath.Join(root, "data")
	walkErr := filepath.WalkDir(dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); !referenced[rel] {
			report.Orphaned = append(report.Orphaned, rel)
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("failed to walk %s: %w", dataDir, walkErr)
	}
	sort.Strings(report.Orphaned)

	slog.Info("reconciliation complete",
		"path", root,
		"themes", report.Themes,
		"questions", report.Questions,
		"missing_themes", len(report.MissingThemes),
		"invalid_themes", len(report.InvalidThemes),
		"orphaned", len(report.Orphaned),
		"missing_assets", len(report.MissingAssets),
	)
	return report, nil
}

// themeDocument returns the slash separated path of a bundled theme's
// question document relative to the content root.
func themeDocument(theme gjson.Result) (string, bool) {
	if p := theme.Get("path").String(); p != "" {
		return strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "./")), "/"), true
	}
	if f := theme.Get("file").String(); f != "" {
		return path.Join("data", f), true
	}
	return "", false
}

func countQuestions(doc []byte) (int, bool) {
	if !gjson.ValidBytes(doc) {
		return 0, false
	}
	parsed := gjson.ParseBytes(doc)
	switch {
	case parsed.IsArray():
		return len(parsed.Array()), true
	case parsed.IsObject() && parsed.Get("questions").IsArray():
		return len(parsed.Get("questions").Array()), true
	default:
		return 0, false
	}
}
