package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to the fleet server's admin API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type deviceRow struct {
	DeviceID        string    `json:"device_id"`
	Name            string    `json:"name"`
	Location        string    `json:"location"`
	IPAddress       string    `json:"ip_address"`
	SoftwareVersion string    `json:"software_version"`
	DeclaredState   string    `json:"declared_state"`
	PlaybackState   string    `json:"playback_state"`
	TargetVersion   string    `json:"target_version"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	Connectivity    string    `json:"connectivity"`
}

type commandResult struct {
	Acknowledgment string `json:"acknowledgment"`
	ResultingState string `json:"resulting_state"`
	NoOp           bool   `json:"no_op"`
}

type apiError struct {
	Status int
	Msg    string `json:"error"`
	Code   string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Msg, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Msg, e.Status)
}

func (c *apiClient) devices(ctx context.Context) ([]deviceRow, error) {
	var out struct {
		Data []deviceRow `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *apiClient) dispatch(ctx context.Context, deviceID, commandType string, params map[string]string) (*commandResult, error) {
	body := map[string]any{"command_type": commandType}
	if len(params) > 0 {
		body["parameters"] = params
	}
	var res commandResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/command/"+deviceID, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) retire(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/devices/"+deviceID+"/retire", nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fleet server not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Msg == "" {
			apiErr.Msg = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
