package exporter

import (
	"context"
	"fmt"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/fetch"
	"github.com/folio-org/mod-data-export/pkg/job"
)

// resolved is the outcome of reading one unit's records.
type resolved struct {
	records []job.Record

	// missing lists ids that were requested but not returned.
	missing []string

	// unavailable lists ids of chunks that failed to fetch. Those were
	// already logged by the fetch client.
	unavailable []string
}

// resolver reads the records of one unit range.
type resolver func(ctx context.Context, e *Engine, task Task) (*resolved, error)

// resolverFor selects a direct ranged read over the catalog replica for
// export-all units and the bulk fetch client for ingested id sets.
func resolverFor(req job.ExportRequest) resolver {
	if req.All {
		return resolveRange
	}
	return resolveIngested
}

func resolveRange(ctx context.Context, e *Engine, task Task) (*resolved, error) {
	filter := exportstore.CatalogFilter{
		Kind:              task.Request.IDType.Kind(),
		IncludeDeleted:    task.Request.IncludeDeleted,
		IncludeSuppressed: task.Request.SuppressedFromDiscovery,
	}
	records, err := e.store.ListCatalogRecordsInRange(ctx, filter, task.Unit.FromID, task.Unit.ToID)
	if err != nil {
		return nil, fmt.Errorf("read catalog range: %w", err)
	}
	return &resolved{records: records}, nil
}

func resolveIngested(ctx context.Context, e *Engine, task Task) (*resolved, error) {
	ids, err := e.store.ListIdentifiersInRange(ctx, task.Unit.JobExecutionID, task.Unit.FromID, task.Unit.ToID)
	if err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}
	if len(ids) == 0 {
		return &resolved{}, nil
	}

	res, err := e.fetcher.FetchByIDs(ctx, fetch.Request{
		JobID:        task.Unit.JobExecutionID,
		JobProfileID: task.JobProfileID,
		Tenant:       task.Request.Tenant,
		Kind:         task.Request.IDType,
		IDs:          ids,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	found := make(map[string]struct{}, len(res.Records))
	for _, r := range res.Records {
		found[r.ID] = struct{}{}
	}
	failed := make(map[string]struct{}, len(res.FailedIDs))
	for _, id := range res.FailedIDs {
		failed[id] = struct{}{}
	}

	out := &resolved{records: res.Records, unavailable: res.FailedIDs}
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if _, ok := failed[id]; ok {
			continue
		}
		out.missing = append(out.missing, id)
	}
	return out, nil
}
