// Package scraper extracts clean article text from a URL: Mozilla Readability
// (go-shiori/go-readability) first, a goquery paragraph-concatenation
// fallback second. Every fetch is SSRF-validated and size/redirect bounded.
package scraper

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
	"mynewslens/internal/netguard"
	"mynewslens/internal/resilience/circuitbreaker"
)

const maxRedirects = 5

// Scraper fetches a URL and extracts readable article text.
type Scraper struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	maxBodyBytes   int64
	denyPrivateIPs bool
}

// New builds a Scraper from the politeness section of config.
func New(p config.PolitenessConfig) *Scraper {
	s := &Scraper{
		circuitBreaker: circuitbreaker.New(circuitbreaker.WebScraperConfig()),
		maxBodyBytes:   p.MaxResponseBytes,
		denyPrivateIPs: true,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 10 * 1024 * 1024
	}

	timeout := time.Duration(p.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	s.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		CheckRedirect: netguard.CheckRedirect(maxRedirects, true),
	}
	return s
}

// Extract fetches urlStr and returns clean article text, preferring
// Readability and falling back to a <p>-tag concatenation when Readability
// cannot find readable content.
func (s *Scraper) Extract(ctx context.Context, urlStr string) (string, error) {
	if err := netguard.ValidateURL(urlStr, s.denyPrivateIPs); err != nil {
		return "", err
	}

	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return s.doFetch(ctx, urlStr)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *Scraper) doFetch(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrScrapeFailed, err)
	}
	req.Header.Set("User-Agent", "MyNewsLensBot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrScrapeFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", domain.ErrScrapeFailed, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, s.maxBodyBytes+1)
	htmlBytes, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrScrapeFailed, err)
	}
	if int64(len(htmlBytes)) > s.maxBodyBytes {
		return "", fmt.Errorf("%w: response exceeds %d bytes", domain.ErrScrapeFailed, s.maxBodyBytes)
	}

	finalURL, _ := url.Parse(urlStr)
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	if text, ok := extractReadability(htmlBytes, finalURL); ok {
		return text, nil
	}

	text, err := extractGoquery(htmlBytes)
	if err != nil {
		return "", err
	}
	return text, nil
}

func extractReadability(htmlBytes []byte, pageURL *url.URL) (string, bool) {
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err != nil {
		slog.Debug("readability extraction failed, will try goquery fallback", slog.Any("error", err))
		return "", false
	}
	if article.TextContent != "" {
		return wrapText(article.TextContent, 80), true
	}
	if article.Content != "" {
		return wrapText(article.Content, 80), true
	}
	return "", false
}

// extractGoquery concatenates every <p> tag's text when Readability finds no
// article root, the common failure mode for minimal/templated pages.
func extractGoquery(htmlBytes []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", domain.ErrScrapeFailed, err)
	}

	var sb strings.Builder
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		t := strings.TrimSpace(sel.Text())
		if t != "" {
			sb.WriteString(t)
			sb.WriteString("\n\n")
		}
	})

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no readable content found", domain.ErrScrapeFailed)
	}
	return wrapText(text, 80), nil
}

// wrapText rewraps plain text to the given column width, preserving
// paragraph breaks (blank lines).
func wrapText(text string, width int) string {
	paragraphs := strings.Split(text, "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = wrapParagraph(strings.Join(strings.Fields(p), " "), width)
	}
	return strings.Join(paragraphs, "\n\n")
}

func wrapParagraph(p string, width int) string {
	if p == "" {
		return p
	}
	words := strings.Fields(p)
	var sb strings.Builder
	lineLen := 0
	for i, w := range words {
		if lineLen > 0 && lineLen+1+len(w) > width {
			sb.WriteByte('\n')
			lineLen = 0
		} else if i > 0 {
			sb.WriteByte(' ')
			lineLen++
		}
		sb.WriteString(w)
		lineLen += len(w)
	}
	return sb.String()
}

