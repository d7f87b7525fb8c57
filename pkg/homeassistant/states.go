package homeassistant

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// State is the current state object of an entity.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// State fetches the current state of entityID.
func (c *Client) State(ctx context.Context, entityID string) (State, error) {
	var st State
	if err := c.do(ctx, "state", "GET", []string{"api", "states", entityID}, "", nil, &st); err != nil {
		return State{}, fmt.Errorf("failed to get state of %s: %w", entityID, err)
	}
	return st, nil
}

// Float parses the state as a finite number.
func (s State) Float() (float64, error) {
	return parseFloat(s.State)
}

// FloatSeries decodes a numeric array attribute such as series_5min_w. The
// second return is false when the attribute is missing or not an array.
// Entries that are null or not numbers come back as nil.
func (s State) FloatSeries(attr string) ([]*float64, bool) {
	raw, ok := s.Attributes[attr]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]*float64, len(list))
	for i, v := range list {
		switch n := v.(type) {
		case float64:
			if !math.IsNaN(n) && !math.IsInf(n, 0) {
				out[i] = &n
			}
		case string:
			if f, err := parseFloat(n); err == nil {
				out[i] = &f
			}
		}
	}
	return out, true
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric state %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite state %q", s)
	}
	return f, nil
}
