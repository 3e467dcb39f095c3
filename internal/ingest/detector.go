package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Detection is the table detector's verdict for one document. The
// detector is a black box; only the confidence score is interpreted.
type Detection struct {
	HasTables    bool    `json:"has_tables"`
	Confidence   float64 `json:"confidence"`
	PagesScanned int     `json:"pages_scanned"`
}

type TableDetector interface {
	Detect(ctx context.Context, pdfPath string, maxPages int) (Detection, error)
}

// StaticDetector always answers with a fixed detection. It serves tests
// and deployments without a detector service, where every document goes
// down the plain-text route.
type StaticDetector struct {
	Result Detection
	Err    error
}

func (d *StaticDetector) Detect(ctx context.Context, pdfPath string, maxPages int) (Detection, error) {
	if d.Err != nil {
		return Detection{}, d.Err
	}
	return d.Result, nil
}

// HTTPDetector calls an external detection service with the document
// path and page cap.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, pdfPath string, maxPages int) (Detection, error) {
	payload, err := json.Marshal(map[string]any{"path": pdfPath, "max_pages": maxPages})
	if err != nil {
		return Detection{}, fmt.Errorf("encode detect request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return Detection{}, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("call table detector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Detection{}, fmt.Errorf("table detector returned status %d", resp.StatusCode)
	}
	var det Detection
	if err := json.NewDecoder(resp.Body).Decode(&det); err != nil {
		return Detection{}, fmt.Errorf("decode detect response: %w", err)
	}
	return det, nil
}
