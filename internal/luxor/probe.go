package luxor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ControllerName asks the controller at ip for the name it reports. It runs
// before a dialect is known, so it bypasses the queue and the cache.
func ControllerName(ctx context.Context, httpClient *http.Client, ip string) (string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	url := fmt.Sprintf("http://%s/%s.json", ip, endpointControllerName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach controller at %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("controller at %s returned HTTP %d", ip, resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("failed to decode controller name from %s: %w", ip, err)
	}
	if r.Status != StatusOK {
		return "", fmt.Errorf("controller at %s answered %q", ip, StatusText(r.Status))
	}
	if r.Controller == "" {
		return "", fmt.Errorf("controller at %s did not report a name", ip)
	}
	return r.Controller, nil
}
