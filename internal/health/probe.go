package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

// Probe performs single request/response health checks against the backend.
// It holds no state between checks; retries are the server manager's job.
type Probe struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// NewProbe creates a health probe.
func NewProbe(opts ...ProbeOption) *Probe {
	p := &Probe{
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ProbeOption {
	return func(p *Probe) {
		p.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = logger
	}
}

// healthWire is the backend's health endpoint response.
type healthWire struct {
	Status      string          `json:"status"` // "healthy", "degraded", ...
	Version     string          `json:"version"`
	UptimeSecs  int64           `json:"uptime_seconds"`
	Connections int             `json:"connections"`
	Services    map[string]bool `json:"services"`
}

// Check performs one health request and classifies the result. It never
// retries; network-level failures classify as unreachable, reachable
// backends reporting trouble or responding slowly classify as degraded.
// The request is bounded by cfg.Server.ConnectTimeout.
func (p *Probe) Check(ctx context.Context, cfg *config.Config) model.HealthResult {
	ctx, cancel := context.WithTimeout(ctx, cfg.Server.ConnectTimeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Server.Address+"/health", nil)
	if err != nil {
		return model.HealthResult{
			Status:    model.HealthUnreachable,
			Timestamp: start,
			Detail:    fmt.Sprintf("create request: %v", err),
		}
	}

	req.Header.Set("Accept", "application/json")
	if cfg.Health.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Health.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		p.logger.Debug("health probe failed", "error", err, "latency", latency)
		return model.HealthResult{
			Status:    model.HealthUnreachable,
			Timestamp: start,
			Latency:   latency,
			Detail:    err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.HealthResult{
			Status:    model.HealthUnreachable,
			Timestamp: start,
			Latency:   latency,
			Detail:    fmt.Sprintf("read response: %v", err),
		}
	}

	if resp.StatusCode >= 400 {
		return model.HealthResult{
			Status:    model.HealthDegraded,
			Timestamp: start,
			Latency:   latency,
			Detail:    fmt.Sprintf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	var wire healthWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.HealthResult{
			Status:    model.HealthDegraded,
			Timestamp: start,
			Latency:   latency,
			Detail:    fmt.Sprintf("unmarshal response: %v", err),
		}
	}

	result := model.HealthResult{
		Status:    model.HealthHealthy,
		Timestamp: start,
		Latency:   latency,
	}

	if wire.Status != "healthy" {
		result.Status = model.HealthDegraded
		result.Detail = fmt.Sprintf("backend reports %q", wire.Status)
	} else if latency > cfg.Health.DegradedLatency {
		result.Status = model.HealthDegraded
		result.Detail = fmt.Sprintf("latency %s above threshold %s", latency, cfg.Health.DegradedLatency)
	}

	p.logger.Debug("health probe",
		"status", result.Status,
		"latency", latency,
		"backend_version", wire.Version,
	)

	return result
}
