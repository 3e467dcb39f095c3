package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// NERAPIProvider calls an external named-entity-recognition service over
// HTTP. The service is a black box; this adapter only enforces the
// lowercase normalization contract on whatever it returns.
type NERAPIProvider struct {
	alias   string
	baseURL string
	client  *http.Client
}

func NewNERAPIProvider(alias string) *NERAPIProvider {
	baseURL := strings.TrimSpace(os.Getenv("DOCINTEL_NER_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &NERAPIProvider{
		alias:   alias,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *NERAPIProvider) ExtractEntities(ctx context.Context, req ExtractRequest) (map[string][]string, ProviderInfo, error) {
	info := ProviderInfo{Name: "nerapi", Model: "remote", Key: n.alias}
	payload, _ := json.Marshal(map[string]string{"text": req.Text})
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/extract", bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, info, fmt.Errorf("ner extract request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, info, fmt.Errorf("ner extract error %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Entities map[string][]string `json:"entities"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode ner response: %w", err)
	}
	out := make(map[string][]string, len(parsed.Entities))
	for typ, values := range parsed.Entities {
		typ = strings.ToLower(strings.TrimSpace(typ))
		for _, v := range values {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			out[typ] = append(out[typ], v)
		}
	}
	return out, info, nil
}
