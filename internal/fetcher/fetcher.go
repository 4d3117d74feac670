// Package fetcher retrieves documents from configured sources: either a
// single markdown/text/HTML document, or an llms.txt manifest enumerating
// many documents, fetched with a bounded concurrency limit.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// DefaultMaxConcurrent bounds in-flight fetches per source when a manifest
// lists many documents.
const DefaultMaxConcurrent = 5

var (
	manifestLinkPattern  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)(?:\s*:\s*(.+?))?(?:\n|$)`)
	htmlSniffPattern     = regexp.MustCompile(`(?i)<(!DOCTYPE|html|head|body)`)
	markdownTitlePattern = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)
)

// Fetcher fetches the documents for a configured Source, normalizing each
// one to markdown.
type Fetcher struct {
	client        *http.Client
	maxConcurrent int
}

// New returns a Fetcher with the given per-source concurrency bound. A
// maxConcurrent <= 0 falls back to DefaultMaxConcurrent.
func New(maxConcurrent int) *Fetcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Fetcher{
		client:        &http.Client{Timeout: DefaultTimeout},
		maxConcurrent: maxConcurrent,
	}
}

// docLink is one entry parsed out of an llms.txt manifest.
type docLink struct {
	Title string
	URL   string
}

// FetchSource fetches every document belonging to src. Individual document
// failures never abort the rest of the source; they are reported in errs
// as "Failed to fetch {url}: {err}" strings, one per failed link.
func (f *Fetcher) FetchSource(ctx context.Context, src domain.Source) (docs []domain.Document, errs []string) {
	if isLLMsTxtURL(src.URL) {
		return f.fetchManifest(ctx, src)
	}

	doc, err := f.fetchDocument(ctx, src.Name, src.URL, src.URL, "")
	if err != nil {
		return nil, []string{fmt.Sprintf("Failed to fetch source %s: %v", src.URL, err)}
	}
	return []domain.Document{doc}, nil
}

func (f *Fetcher) fetchManifest(ctx context.Context, src domain.Source) ([]domain.Document, []string) {
	body, _, err := f.get(ctx, src.URL)
	if err != nil {
		return nil, []string{fmt.Sprintf("Failed to fetch source %s: %v", src.URL, err)}
	}

	links := parseLLMsTxt(body, src.URL)

	sem := semaphore.NewWeighted(int64(f.maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	docs := make([]domain.Document, len(links))
	fetchErrs := make([]string, len(links))
	ok := make([]bool, len(links))

	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			doc, err := f.fetchDocument(gctx, src.Name, src.URL, link.URL, link.Title)
			if err != nil {
				fetchErrs[i] = fmt.Sprintf("Failed to fetch %s: %v", link.URL, err)
				return nil
			}
			docs[i] = doc
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var outDocs []domain.Document
	var outErrs []string
	for i := range links {
		if ok[i] {
			outDocs = append(outDocs, docs[i])
		} else if fetchErrs[i] != "" {
			outErrs = append(outErrs, fetchErrs[i])
		}
	}
	return outDocs, outErrs
}

// fetchDocument retrieves a single document and normalizes it to markdown.
// fallbackTitle is used when the fetched content carries no title of its
// own (e.g. a manifest link's label).
func (f *Fetcher) fetchDocument(ctx context.Context, sourceName, sourceURL, docURL, fallbackTitle string) (domain.Document, error) {
	body, contentType, err := f.get(ctx, docURL)
	if err != nil {
		return domain.Document{}, err
	}

	content := body
	if !isMarkdownURL(docURL) && !isTextURL(docURL) {
		if strings.Contains(contentType, "text/html") || (!strings.Contains(contentType, "text/markdown") && isHTML(body)) {
			parsedURL, parseErr := url.Parse(docURL)
			domainHost := ""
			if parseErr == nil {
				domainHost = fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
			}
			converted, convErr := htmltomarkdown.ConvertString(body, converter.WithDomain(domainHost))
			if convErr != nil {
				return domain.Document{}, fmt.Errorf("convert html: %w", convErr)
			}
			content = converted
		}
	}

	title := extractTitle(content)
	var titlePtr *string
	switch {
	case title != "":
		titlePtr = &title
	case fallbackTitle != "":
		titlePtr = &fallbackTitle
	}

	return domain.Document{
		SourceName: sourceName,
		SourceURL:  sourceURL,
		DocURL:     docURL,
		Title:      titlePtr,
		Content:    content,
	}, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (body string, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "llmdoc-mcp/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	return string(data), resp.Header.Get("Content-Type"), nil
}

// parseLLMsTxt extracts (title, url) links from an llms.txt manifest body,
// resolving relative URLs against baseURL.
func parseLLMsTxt(body, baseURL string) []docLink {
	base, baseErr := url.Parse(baseURL)

	var links []docLink
	for _, m := range manifestLinkPattern.FindAllStringSubmatch(body, -1) {
		title := strings.TrimSpace(m[1])
		rawURL := strings.TrimSpace(m[2])

		resolved := rawURL
		if baseErr == nil {
			if u, err := url.Parse(rawURL); err == nil {
				resolved = base.ResolveReference(u).String()
			}
		}
		links = append(links, docLink{Title: title, URL: resolved})
	}
	return links
}

func isLLMsTxtURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(rawURL, "llms.txt")
	}
	return strings.HasSuffix(u.Path, "llms.txt")
}

func isMarkdownURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

func isTextURL(rawURL string) bool {
	return strings.HasSuffix(strings.ToLower(rawURL), ".txt")
}

func isHTML(body string) bool {
	return htmlSniffPattern.MatchString(body)
}

func extractTitle(markdown string) string {
	m := markdownTitlePattern.FindStringSubmatch(markdown)
	if m == nil {
		return ""
	}
	return m[1]
}
