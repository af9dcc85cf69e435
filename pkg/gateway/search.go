package gateway

import (
	"context"
	"net/url"
	"strconv"
)

// SearchJobStatus is the state of an asynchronous id-collection job.
type SearchJobStatus string

const (
	SearchJobInProgress SearchJobStatus = "IN_PROGRESS"
	SearchJobCompleted  SearchJobStatus = "COMPLETED"
	SearchJobError      SearchJobStatus = "ERROR"
	SearchJobDeprecated SearchJobStatus = "DEPRECATED"
)

// SearchJob is an id-collection job on the search service.
type SearchJob struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	EntityType   string          `json:"entityType"`
	Status       SearchJobStatus `json:"status"`
	TotalRecords int64           `json:"totalRecords,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

const searchJobsPath = "/search/resources/jobs"

// SubmitIDsJob starts collecting ids matching a CQL query.
func (c *Client) SubmitIDsJob(ctx context.Context, query, entityType string) (*SearchJob, error) {
	req := struct {
		Query      string `json:"query"`
		EntityType string `json:"entityType"`
	}{Query: query, EntityType: entityType}

	var out SearchJob
	if err := c.postJSON(ctx, searchJobsPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIDsJob returns the current state of an id-collection job.
func (c *Client) GetIDsJob(ctx context.Context, id string) (*SearchJob, error) {
	var out SearchJob
	if err := c.getJSON(ctx, searchJobsPath+"/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobIDs returns the ids collected by a completed job.
func (c *Client) JobIDs(ctx context.Context, id string, limit int) ([]string, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var out struct {
		IDs []struct {
			ID string `json:"id"`
		} `json:"ids"`
		TotalRecords int64 `json:"totalRecords"`
	}
	if err := c.getJSON(ctx, searchJobsPath+"/"+url.PathEscape(id)+"/ids", query, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.IDs))
	for _, item := range out.IDs {
		ids = append(ids, item.ID)
	}
	return ids, nil
}
