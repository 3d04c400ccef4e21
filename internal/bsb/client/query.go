package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
)

// AverageBase is the first parameter id of the 24h averages on v2 firmware.
const AverageBase = 20050

// averagesConfigKey is the /JL entry listing the averaged parameters.
const averagesConfigKey = "13"

// Query reads the current values of ids via /JQ, in batches of BatchSize.
// Batches are issued and merged in slice order; any failed batch fails
// the whole call. Result keys are as the device reports them.
func (c *Client) Query(ctx context.Context, ids []string) (map[string]bsb.ParameterValue, error) {
	result := make(map[string]bsb.ParameterValue, len(ids))
	for _, batch := range c.batches(ids) {
		var part map[string]bsb.ParameterValue
		if err := c.getJSON(ctx, "/JQ="+strings.Join(batch, ","), &part); err != nil {
			return nil, err
		}
		for k, v := range part {
			result[k] = v
		}
	}
	return result, nil
}

// QueryDefinitions reads parameter metadata via /JC. v2 firmware only.
func (c *Client) QueryDefinitions(ctx context.Context, ids []string) (map[string]bsb.ParameterDefinition, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if !profile.V2() {
		return nil, ErrUnsupported
	}

	result := make(map[string]bsb.ParameterDefinition, len(ids))
	for _, batch := range c.batches(ids) {
		var part map[string]bsb.ParameterDefinition
		if err := c.getJSON(ctx, "/JC="+strings.Join(batch, ","), &part); err != nil {
			return nil, err
		}
		for k, v := range part {
			result[k] = v
		}
	}
	return result, nil
}

// Categories lists the device's parameter categories via /JK=ALL.
func (c *Client) Categories(ctx context.Context) (map[string]bsb.CategoryDescriptor, error) {
	var result map[string]bsb.CategoryDescriptor
	if err := c.getJSON(ctx, "/JK=ALL", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Category returns the definitions of every parameter in one category.
func (c *Client) Category(ctx context.Context, id string) (map[string]bsb.ParameterDefinition, error) {
	var result map[string]bsb.ParameterDefinition
	if err := c.getJSON(ctx, "/JK="+id, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Info returns gateway information (name, version, uptime, bus settings).
// v2 firmware only.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if !profile.V2() {
		return nil, ErrUnsupported
	}

	var result map[string]any
	if err := c.getJSON(ctx, "/JI", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Profile returns the firmware profile, probing /JV on first use.
// Gateways without /JV (HTTP 404) are v1.
func (c *Client) Profile(ctx context.Context) (FirmwareProfile, error) {
	c.profileMu.Lock()
	defer c.profileMu.Unlock()

	if c.profile != nil {
		return *c.profile, nil
	}

	var resp struct {
		APIVersion bsb.Text `json:"api_version"`
	}
	err := c.getJSON(ctx, "/JV", &resp)
	var status *HTTPStatusError
	switch {
	case errors.As(err, &status) && status.Status == http.StatusNotFound:
		resp.APIVersion = ""
	case err != nil:
		return FirmwareProfile{}, err
	}

	p := profileFromVersion(string(resp.APIVersion))
	c.profile = &p
	return p, nil
}

// ResetProfile forgets the cached profile so the next call probes again,
// e.g. after a firmware update.
func (c *Client) ResetProfile() {
	c.profileMu.Lock()
	c.profile = nil
	c.profileMu.Unlock()
}

// Averages returns the 24 hour averages. v1 firmware serves them from /JA.
// v2 firmware lists the averaged parameters in /JL entry "13"; the average
// of slot i is parameter AverageBase+i, read via Query.
func (c *Client) Averages(ctx context.Context) (map[string]bsb.ParameterValue, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return nil, err
	}

	if !profile.V2() {
		var result map[string]bsb.ParameterValue
		if err := c.getJSON(ctx, "/JA", &result); err != nil {
			return nil, err
		}
		return result, nil
	}

	var cfg map[string]json.RawMessage
	if err := c.getJSON(ctx, "/JL", &cfg); err != nil {
		return nil, err
	}
	slots := averagedSlots(cfg[averagesConfigKey])
	if len(slots) == 0 {
		return map[string]bsb.ParameterValue{}, nil
	}

	ids := make([]string, len(slots))
	for i, slot := range slots {
		ids[i] = strconv.Itoa(AverageBase + slot)
	}
	return c.Query(ctx, ids)
}

// averagedSlots returns the indexes of the configured slots of the averages
// entry. Slot i is averaged as parameter AverageBase+i, so unused slots
// (empty or zero) keep their position. The entry value is either a JSON
// array or a comma separated string.
func averagedSlots(raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}

	var entry struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Value) == 0 {
		entry.Value = raw
	}

	var values []bsb.Text
	if err := json.Unmarshal(entry.Value, &values); err != nil {
		var csv bsb.Text
		if err := json.Unmarshal(entry.Value, &csv); err != nil {
			return nil
		}
		for _, s := range strings.Split(string(csv), ",") {
			values = append(values, bsb.Text(s))
		}
	}

	var slots []int
	for i, s := range values {
		v := strings.TrimSpace(string(s))
		if v != "" && v != "0" {
			slots = append(slots, i)
		}
	}
	return slots
}

// batches splits ids into slices of at most batchSize.
func (c *Client) batches(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += c.batchSize {
		end := min(start+c.batchSize, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
