package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/edgemetrics/internal/model"
)

// QueryRequest parameterizes one batched analytical query.
type QueryRequest struct {
	QueryName     string
	ScopeIDs      []string
	MinTime       time.Time
	MaxTime       time.Time
	Limit         int
	Fields        []string
	ReducedFields []string
}

type queryPayload struct {
	Query    string   `json:"query"`
	ScopeIDs []string `json:"scope_ids"`
	MinTime  string   `json:"mintime"`
	MaxTime  string   `json:"maxtime"`
	Limit    int      `json:"limit"`
	Fields   []string `json:"fields,omitempty"`
}

// Query runs one analytical query over the given scopes and time window.
// A missing-field error is retried once with the reduced field set; a
// tier-access error yields an empty, non-fatal result.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]model.MetricSnapshot, error) {
	snaps, err := c.runQuery(ctx, req, req.Fields)
	if isMissingFieldError(err) && len(req.ReducedFields) > 0 {
		c.logger.Warn().
			Str("query", req.QueryName).
			Msg("field access denied, retrying with reduced field set")
		snaps, err = c.runQuery(ctx, req, req.ReducedFields)
	}
	if isNoAccessError(err) {
		c.logger.Debug().
			Str("query", req.QueryName).
			Msg("no analytics access for scope, returning empty result")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.QueryName, err)
	}
	return snaps, nil
}

func (c *Client) runQuery(ctx context.Context, req QueryRequest, fields []string) ([]model.MetricSnapshot, error) {
	payload := queryPayload{
		Query:    req.QueryName,
		ScopeIDs: req.ScopeIDs,
		MinTime:  req.MinTime.UTC().Format(time.RFC3339),
		MaxTime:  req.MaxTime.UTC().Format(time.RFC3339),
		Limit:    req.Limit,
		Fields:   fields,
	}

	var result struct {
		Metrics []model.MetricSnapshot `json:"metrics"`
	}
	if err := c.post(ctx, "/analytics/query", payload, &result); err != nil {
		return nil, err
	}
	return result.Metrics, nil
}
