package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"docintel/internal/util"
)

// Conversion routes. Vision goes through the table-aware converter so
// tabular layout survives as markdown; plain is direct text extraction.
const (
	RouteVision = "vision"
	RoutePlain  = "plain"
)

// Page is one page of converted document text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Converter turns a PDF into per-page text for one route.
type Converter interface {
	Convert(ctx context.Context, pdfPath string) ([]Page, error)
}

// Router picks the conversion route from the detector's confidence. The
// vision route is taken only when the detector is confident tables are
// present; everything else, including detector failure, falls back to
// plain extraction.
type Router struct {
	detector  TableDetector
	threshold float64
	maxPages  int
}

func NewRouter(detector TableDetector, threshold float64, maxPages int) *Router {
	if threshold <= 0 {
		threshold = 0.90
	}
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Router{detector: detector, threshold: threshold, maxPages: maxPages}
}

func (r *Router) Route(ctx context.Context, pdfPath string) (string, Detection, error) {
	det, err := r.detector.Detect(ctx, pdfPath, r.maxPages)
	if err != nil {
		return RoutePlain, Detection{}, fmt.Errorf("table detection failed, using plain route: %w", err)
	}
	if det.HasTables && det.Confidence >= r.threshold {
		return RouteVision, det, nil
	}
	return RoutePlain, det, nil
}

// PlainConverter extracts embedded text page by page.
type PlainConverter struct{}

func (PlainConverter) Convert(ctx context.Context, pdfPath string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = util.SanitizeText(strings.TrimSpace(text))
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, util.ErrNoExtractableText
	}
	return pages, nil
}

// HTTPConverter sends the document to an external vision conversion
// service that returns markdown per page. The service is a black box;
// only its page payload is consumed.
type HTTPConverter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPConverter(baseURL string) *HTTPConverter {
	return &HTTPConverter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *HTTPConverter) Convert(ctx context.Context, pdfPath string) ([]Page, error) {
	payload, err := json.Marshal(map[string]string{"path": pdfPath})
	if err != nil {
		return nil, fmt.Errorf("encode convert request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call vision converter: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision converter returned status %d", resp.StatusCode)
	}
	var out struct {
		Pages []Page `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode convert response: %w", err)
	}
	pages := make([]Page, 0, len(out.Pages))
	for _, p := range out.Pages {
		text := util.SanitizeText(strings.TrimSpace(p.Text))
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: p.Number, Text: text})
	}
	if len(pages) == 0 {
		return nil, util.ErrNoExtractableText
	}
	return pages, nil
}
