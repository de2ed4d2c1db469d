package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"scanner-bridge/domain"
)

// HTTPResolver resolves barcodes against the inventory API's barcode
// mapping endpoint: GET {baseURL}/barcode-mappings/{code}.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type mapping struct {
	SourceType string     `json:"source_type"`
	SourceID   flexibleID `json:"source_id"`
}

// flexibleID accepts both numeric and string ids.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexibleID(n.String())
	return nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, code string) (domain.Resolution, error) {
	endpoint := r.baseURL + "/barcode-mappings/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolve %q: %w", code, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return domain.Resolution{Found: false}, nil
	default:
		return domain.Resolution{}, fmt.Errorf("resolve %q: unexpected status %d", code, resp.StatusCode)
	}

	var m mapping
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return domain.Resolution{}, fmt.Errorf("decode mapping for %q: %w", code, err)
	}
	return domain.Resolution{
		Found:      true,
		SourceType: m.SourceType,
		SourceID:   string(m.SourceID),
	}, nil
}
