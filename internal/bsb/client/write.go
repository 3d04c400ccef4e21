package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
)

// DefaultWriteType is the /JS "Type" tag for a normal SET telegram.
const DefaultWriteType = 1

// legacyFailure appears in the text answer of a failed /I write.
const legacyFailure = "fehlgeschlagen"

// WriteResult is the device's answer for one parameter.
type WriteResult struct {
	Status WriteStatus `json:"status"`
}

// WriteAck is the full /JS answer keyed by parameter id.
type WriteAck map[string]WriteResult

// Keys returns the acknowledged parameter ids in canonical order.
func (a WriteAck) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	param.Sort(keys)
	return keys
}

// writeRequest is the /JS body. Parameter is the trimmed id and keeps its
// "!dest" suffix, so writes reach the same bus destination as reads.
type writeRequest struct {
	Parameter string `json:"Parameter"`
	Value     string `json:"Value"`
	Type      int    `json:"Type"`
}

// Write sets parameter id to value. The value is converted to the wire
// encoding of dataType first.
//
// A status 1 answer is returned unmodified. Status 0 and 2 answers return
// a *WriteRejectedError carrying the raw response; rejections are final
// and never retried. Transport failures are retried like any request.
func (c *Client) Write(ctx context.Context, id, value string, dataType bsb.DataType) (WriteAck, error) {
	id = param.Trim(id)
	encoded := bsb.EncodeValue(value, dataType)
	ov := c.override(id)

	if ov.Legacy {
		return c.writeLegacy(ctx, id, encoded)
	}

	writeType := DefaultWriteType
	if ov.WriteType != nil {
		writeType = *ov.WriteType
	}

	payload, err := json.Marshal(writeRequest{
		Parameter: id,
		Value:     encoded,
		Type:      writeType,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding write request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/JS", payload)
	if err != nil {
		return nil, err
	}

	var ack WriteAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("decoding write answer: %w", err)
	}

	keys := make([]string, 0, len(ack))
	for k := range ack {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := ack[k].Status; s == StatusError || s == StatusReadOnly {
			return nil, &WriteRejectedError{ID: k, Status: s, Raw: string(body)}
		}
	}
	return ack, nil
}

// writeLegacy uses the plain-text GET /I{id}={value} command.
func (c *Client) writeLegacy(ctx context.Context, id, encoded string) (WriteAck, error) {
	body, err := c.do(ctx, http.MethodGet, "/I"+param.ID(id)+"="+url.PathEscape(encoded), nil)
	if err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(string(body)), legacyFailure) {
		return nil, &WriteRejectedError{ID: id, Status: StatusError, Raw: strings.TrimSpace(string(body))}
	}
	return WriteAck{param.ID(id): {Status: StatusOK}}, nil
}

// IsReadWrite guesses writability for firmware that does not report it:
// writable unless an override says otherwise.
func (c *Client) IsReadWrite(id string) bool {
	if ov := c.override(id); ov.RW != nil {
		return *ov.RW
	}
	return true
}

// override finds the most specific override for id: the full id, then
// without destination, then the bare parameter number.
func (c *Client) override(id string) Override {
	id = param.Trim(id)
	for _, key := range []string{id, param.Trim(param.ID(id)), param.BaseID(id)} {
		if ov, ok := c.overrides[key]; ok {
			return ov
		}
	}
	return Override{}
}
