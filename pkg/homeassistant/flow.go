package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lightearth/lightearth-proxy/pkg/log"
)

// Flow result types.
const (
	FlowTypeForm        = "form"
	FlowTypeCreateEntry = "create_entry"
	FlowTypeAbort       = "abort"
)

// FlowResult is the response to starting or advancing a config flow.
type FlowResult struct {
	Type    string            `json:"type"`
	FlowID  string            `json:"flow_id"`
	Handler string            `json:"handler"`
	StepID  string            `json:"step_id,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Title   string            `json:"title,omitempty"`
	Result  struct {
		EntryID string `json:"entry_id"`
	} `json:"result"`
}

// FlowError is a config flow that ended without creating an entry.
type FlowError struct {
	Type   string
	Reason string
}

func (e *FlowError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config flow ended with %s", e.Type)
	}
	return fmt.Sprintf("config flow ended with %s: %s", e.Type, e.Reason)
}

// StartFlow starts a config flow for an integration.
func (c *Client) StartFlow(ctx context.Context, handler string) (FlowResult, error) {
	var res FlowResult
	body := map[string]any{"handler": handler, "show_advanced_options": false}
	if err := c.do(ctx, "flow_start", "POST", []string{"api", "config", "config_entries", "flow"}, "", body, &res); err != nil {
		return FlowResult{}, fmt.Errorf("failed to start %s config flow: %w", handler, err)
	}
	return res, nil
}

// SubmitFlow submits the current step of a flow.
func (c *Client) SubmitFlow(ctx context.Context, flowID string, data map[string]any) (FlowResult, error) {
	var res FlowResult
	if err := c.do(ctx, "flow_submit", "POST", []string{"api", "config", "config_entries", "flow", flowID}, "", data, &res); err != nil {
		return FlowResult{}, fmt.Errorf("failed to submit config flow %s: %w", flowID, err)
	}
	return res, nil
}

// AbortFlow discards an unfinished flow.
func (c *Client) AbortFlow(ctx context.Context, flowID string) error {
	if err := c.do(ctx, "flow_abort", "DELETE", []string{"api", "config", "config_entries", "flow", flowID}, "", nil, nil); err != nil {
		return fmt.Errorf("failed to abort config flow %s: %w", flowID, err)
	}
	return nil
}

// DeleteEntry removes a config entry and with it the device's sensors.
func (c *Client) DeleteEntry(ctx context.Context, entryID string) error {
	if err := c.do(ctx, "entry_delete", "DELETE", []string{"api", "config", "config_entries", "entry", entryID}, "", nil, nil); err != nil {
		return fmt.Errorf("failed to delete config entry %s: %w", entryID, err)
	}
	return nil
}

// AddDevice walks the integration's user step for deviceID and returns the
// created entry. Unfinished flows are aborted so they do not pile up.
func (c *Client) AddDevice(ctx context.Context, deviceID string) (string, error) {
	res, err := c.StartFlow(ctx, c.integration)
	if err != nil {
		return "", err
	}
	if res.Type != FlowTypeForm {
		return "", &FlowError{Type: res.Type, Reason: res.Reason}
	}

	flowID := res.FlowID
	res, err = c.SubmitFlow(ctx, flowID, map[string]any{"device_id": deviceID})
	if err == nil {
		switch res.Type {
		case FlowTypeCreateEntry:
			if res.Result.EntryID == "" {
				return "", errors.New("config flow created an entry without an id")
			}
			return res.Result.EntryID, nil
		case FlowTypeAbort:
			// aborted flows are already gone
			return "", &FlowError{Type: res.Type, Reason: res.Reason}
		default:
			err = &FlowError{Type: res.Type, Reason: formErrors(res.Errors)}
		}
	}

	if aerr := c.AbortFlow(ctx, flowID); aerr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to abort config flow", slog.String("flowID", flowID), slog.Any("error", aerr))
	}
	return "", err
}

func formErrors(errs map[string]string) string {
	parts := make([]string, 0, len(errs))
	for field, reason := range errs {
		parts = append(parts, field+"="+reason)
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}
