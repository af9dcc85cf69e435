package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ReferenceTableLimit caps the entries fetched for one reference table.
const ReferenceTableLimit = 1000

var referenceEndpoints = map[string]recordEndpoint{
	"locations":         {path: "/locations", key: "locations"},
	"material-types":    {path: "/material-types", key: "mtypes"},
	"instance-types":    {path: "/instance-types", key: "instanceTypes"},
	"identifier-types":  {path: "/identifier-types", key: "identifierTypes"},
	"call-number-types": {path: "/call-number-types", key: "callNumberTypes"},
}

// ReferenceTable returns the named reference table as id -> name.
func (c *Client) ReferenceTable(ctx context.Context, name string) (map[string]string, error) {
	ep, ok := referenceEndpoints[name]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown reference table %q", name)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(ReferenceTableLimit))

	var page map[string]json.RawMessage
	if err := c.getJSON(ctx, ep.path, query, &page); err != nil {
		return nil, err
	}
	var entries []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if raw, ok := page[ep.key]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &DecodeError{Path: ep.path, Err: err}
		}
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[strings.ToLower(e.ID)] = e.Name
	}
	return out, nil
}
