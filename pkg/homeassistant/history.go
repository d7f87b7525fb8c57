package homeassistant

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/lightearth/lightearth-proxy/pkg/series"
)

type historyQuery struct {
	skipInitialState bool
}

// HistoryOption adjusts a History query.
type HistoryOption func(*historyQuery)

// SkipInitialState leaves out the state the entity had at the start of the
// window, which Home Assistant otherwise reports stamped at the window start.
func SkipInitialState() HistoryOption {
	return func(q *historyQuery) {
		q.skipInitialState = true
	}
}

// History returns every recorded state change of entityID within w as raw
// samples, oldest first. An empty window returns no samples without calling
// Home Assistant.
func (c *Client) History(ctx context.Context, entityID string, w series.Window, opts ...HistoryOption) ([]series.RawSample, error) {
	if w.Empty() {
		return []series.RawSample{}, nil
	}
	params := url.Values{}
	params.Set("filter_entity_id", entityID)
	params.Set("end_time", w.Until().UTC().Format(time.RFC3339Nano))
	// flags without values, Home Assistant only checks for their presence
	query := params.Encode() + "&minimal_response&no_attributes"
	var hq historyQuery
	for _, opt := range opts {
		opt(&hq)
	}
	if hq.skipInitialState {
		query += "&skip_initial_state"
	}

	// one list per requested entity
	var resp [][]series.RawSample
	path := []string{"api", "history", "period", w.Start.UTC().Format(time.RFC3339)}
	if err := c.do(ctx, "history", "GET", path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", entityID, err)
	}

	samples := []series.RawSample{}
	for _, list := range resp {
		samples = append(samples, list...)
	}
	return samples, nil
}
