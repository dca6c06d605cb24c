// Package metrics connects the service to its Prometheus backend in both
// directions: it exposes the service's own request counters for scraping,
// and it queries the backend read-only for the runtime snapshot attached to
// status responses.
//
// The backend is optional. With no Prometheus URL configured, or with the
// backend unreachable, Snapshot returns the empty snapshot, which the wire
// format renders as an empty metrics object ("disconnected"). Metrics never
// fail a request.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/forgeline/pipeline/domain"
)

// Queries evaluated against the backend for the dashboard snapshot. They
// target the demo workload's request counter, the same metric this service
// exports for itself.
const (
	queryRequestRate   = `sum(rate(http_requests_total[1m]))`
	queryErrorRate     = `sum(rate(http_requests_total{code=~"5.."}[1m])) / sum(rate(http_requests_total[1m]))`
	queryRequestsTotal = `sum(http_requests_total)`
)

// Source yields metrics snapshots. The HTTP layer depends on this interface
// so tests can substitute fixed snapshots.
type Source interface {
	Snapshot(ctx context.Context) domain.MetricsSnapshot
}

// Client queries a Prometheus-compatible API.
type Client struct {
	api     promv1.API
	timeout time.Duration
	log     *slog.Logger
}

// NewClient returns a Source backed by the Prometheus API at baseURL. An
// empty baseURL returns a disconnected client whose snapshots are empty.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	c := &Client{timeout: timeout, log: log}
	if baseURL == "" {
		return c, nil
	}

	promClient, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("invalid prometheus URL %q: %w", baseURL, err)
	}
	c.api = promv1.NewAPI(promClient)
	return c, nil
}

// Snapshot implements Source. Each metric is queried independently;
// whichever queries fail are simply absent from the snapshot.
func (c *Client) Snapshot(ctx context.Context) domain.MetricsSnapshot {
	if c.api == nil {
		return domain.MetricsSnapshot{}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return domain.MetricsSnapshot{
		RequestsPerSecond: c.scalar(ctx, queryRequestRate),
		ErrorRate:         c.scalar(ctx, queryErrorRate),
		RequestsTotal:     c.scalar(ctx, queryRequestsTotal),
	}
}

// scalar evaluates an instant query and returns the first sample's value,
// or nil when the query fails or yields nothing.
func (c *Client) scalar(ctx context.Context, query string) *float64 {
	value, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		c.log.Debug("metrics query failed", "query", query, "error", err)
		return nil
	}
	if len(warnings) > 0 {
		c.log.Debug("metrics query warnings", "query", query, "warnings", warnings)
	}

	vector, ok := value.(model.Vector)
	if !ok || vector.Len() == 0 {
		return nil
	}
	v := float64(vector[0].Value)
	return &v
}
