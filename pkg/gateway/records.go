package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/folio-org/mod-data-export/pkg/job"
)

type recordEndpoint struct {
	path string
	key  string
}

var recordEndpoints = map[job.IDType]recordEndpoint{
	job.IDTypeInstance:  {path: "/instance-storage/instances", key: "instances"},
	job.IDTypeHolding:   {path: "/holdings-storage/holdings", key: "holdingsRecords"},
	job.IDTypeAuthority: {path: "/authority-storage/authorities", key: "authorities"},
}

// IDQuery builds the CQL `id==(a or b)` query for ids.
func IDQuery(ids []string) string {
	return "id==(" + strings.Join(ids, " or ") + ")"
}

// FetchByIDs returns the records of the given kind whose id is in ids.
// Ids that do not exist are simply absent from the result.
func (c *Client) FetchByIDs(ctx context.Context, kind job.IDType, ids []string, limit int) ([]job.Record, error) {
	ep, ok := recordEndpoints[kind]
	if !ok {
		return nil, fmt.Errorf("gateway: unsupported record kind %q", kind)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(ids)
	}

	query := url.Values{}
	query.Set("query", IDQuery(ids))
	query.Set("limit", strconv.Itoa(limit))

	var page map[string]json.RawMessage
	if err := c.getJSON(ctx, ep.path, query, &page); err != nil {
		return nil, err
	}

	raw, ok := page[ep.key]
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &DecodeError{Path: ep.path, Err: err}
	}

	records := make([]job.Record, 0, len(items))
	for _, item := range items {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, &DecodeError{Path: ep.path, Err: err}
		}
		records = append(records, job.Record{ID: strings.ToLower(head.ID), Content: item})
	}
	return records, nil
}
