// Package loader turns file paths and URLs into documents.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/distill/internal/models"
)

// ErrSourceNotAllowed is returned for sources outside what the loader is
// configured to read.
var ErrSourceNotAllowed = errors.New("source not allowed")

type LoaderConfig struct {
	RateLimit  float64 // URL fetches per second
	Timeout    time.Duration
	MaxBytes   int64
	Logger     *zap.Logger
	OnProgress func(source string)

	// URLOnly rejects every file source, stdin included.
	URLOnly bool
	// FileRoot, when set, confines file sources to paths under it.
	// Relative paths resolve against it and stdin is rejected.
	FileRoot string
}

type Loader struct {
	config  LoaderConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewWithConfig(config LoaderConfig) *Loader {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 64 << 20
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Loader{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     log,
	}
}

func New() *Loader {
	return NewWithConfig(LoaderConfig{})
}

// Load reads every source in order. A source is an http(s) URL, a file path,
// or "-" for stdin. HTML is reduced to its main text content.
func (l *Loader) Load(ctx context.Context, sources ...string) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(sources))
	for _, src := range sources {
		var (
			doc models.Document
			err error
		)
		if isURL(src) {
			doc, err = l.fetch(ctx, src)
		} else {
			var path string
			if path, err = l.resolvePath(src); err == nil {
				doc, err = l.readFile(path)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", src, err)
		}
		l.log.Debug("loaded document", zap.String("source", src), zap.Int("chars", len(doc.Content)))
		if l.config.OnProgress != nil {
			l.config.OnProgress(src)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func isURL(src string) bool {
	u, err := url.Parse(src)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// resolvePath applies URLOnly and FileRoot to a file source.
func (l *Loader) resolvePath(src string) (string, error) {
	if l.config.URLOnly {
		return "", fmt.Errorf("%w: only http(s) URLs are accepted", ErrSourceNotAllowed)
	}
	if l.config.FileRoot == "" {
		return src, nil
	}
	if src == "-" {
		return "", fmt.Errorf("%w: stdin", ErrSourceNotAllowed)
	}

	root, err := filepath.Abs(l.config.FileRoot)
	if err != nil {
		return "", err
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", err
	}

	path := src
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	// symlinks inside the root must not lead out of it
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: outside %s", ErrSourceNotAllowed, l.config.FileRoot)
	}
	return resolved, nil
}

func (l *Loader) readFile(path string) (models.Document, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return models.Document{}, err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, l.config.MaxBytes))
	if err != nil {
		return models.Document{}, err
	}

	doc := models.Document{
		ID:  path,
		URL: path,
		Metadata: map[string]interface{}{
			"source": "file",
			"time":   time.Now(),
		},
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		html, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
		if err != nil {
			return models.Document{}, err
		}
		doc.Title = strings.TrimSpace(html.Find("title").Text())
		doc.Content = extractMainContent(html)
		return doc, nil
	}

	doc.Title = filepath.Base(path)
	doc.Content = string(data)
	return doc, nil
}

func (l *Loader) fetch(ctx context.Context, urlStr string) (models.Document, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return models.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	body := io.LimitReader(resp.Body, l.config.MaxBytes)
	doc := models.Document{
		ID:  urlStr,
		URL: urlStr,
		Metadata: map[string]interface{}{
			"source":       "url",
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return models.Document{}, err
		}
		doc.Content = string(data)
		return doc, nil
	}

	html, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return models.Document{}, err
	}
	doc.Title = strings.TrimSpace(html.Find("title").Text())
	doc.Content = extractMainContent(html)
	return doc, nil
}

func cleanContent(content string) string {
	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	// Remove extra whitespace
	return strings.Join(strings.Fields(content), " ")
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}
