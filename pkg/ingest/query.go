package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstats"
	"github.com/folio-org/mod-data-export/pkg/gateway"
	"github.com/folio-org/mod-data-export/pkg/job"
)

var errNoSearchClient = errors.New("search client is not configured")

// ingestQuery submits the stored query as an id-collection job, waits for
// it and persists the returned ids.
func (i *Ingester) ingestQuery(ctx context.Context, fd *job.FileDefinition, stats *exportstats.Accumulator, kind job.IDType, log *zap.Logger) Summary {
	var sum Summary

	query, err := readAll(ctx, i.objects, fd.SourcePath)
	if err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}
	if i.search == nil {
		i.failRead(ctx, fd, stats, log, errNoSearchClient)
		return sum
	}

	sj, err := i.search.SubmitIDsJob(ctx, query, string(kind))
	if err != nil {
		i.failRead(ctx, fd, stats, log, fmt.Errorf("submit search job: %w", err))
		return sum
	}
	log = log.With(zap.String("search_job_id", sj.ID))

	sj, err = i.awaitSearchJob(ctx, sj, log)
	if err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}

	switch sj.Status {
	case gateway.SearchJobCompleted:
	case gateway.SearchJobError:
		msg := sj.ErrorMessage
		if msg == "" {
			msg = query
		}
		log.Warn("search query failed", zap.String("query", query), zap.String("error", sj.ErrorMessage))
		i.saveError(ctx, fd, job.ErrorQueryFailed, log, msg)
		return sum
	default:
		log.Warn("unexpected search job status", zap.String("status", string(sj.Status)))
		return sum
	}

	ids, err := i.search.JobIDs(ctx, sj.ID, 0)
	if err != nil {
		i.failRead(ctx, fd, stats, log, fmt.Errorf("fetch search job ids: %w", err))
		return sum
	}

	total := int64(len(ids))
	for start := 0; start < len(ids); start += i.cfg.BatchSize {
		end := start + i.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		n, err := i.store.InsertIdentifiers(ctx, fd.JobExecutionID, ids[start:end])
		if err != nil {
			i.failRead(ctx, fd, stats, log, err)
			return sum
		}
		sum.Persisted += n
		sum.LinesRead = int64(end)
		if err := i.store.UpdateReadProgress(ctx, fd.JobExecutionID, sum.LinesRead, total); err != nil {
			log.Warn("failed to update read progress", zap.Error(err))
		}
	}
	if err := i.store.UpdateReadProgress(ctx, fd.JobExecutionID, sum.LinesRead, total); err != nil {
		log.Warn("failed to update read progress", zap.Error(err))
	}

	sum.DuplicatesAcrossBatches = sum.LinesRead - sum.Persisted
	stats.AddDuplicates(sum.DuplicatesAcrossBatches)
	log.Info("query identifiers ingested", zap.Int64("ids", total), zap.Int64("persisted", sum.Persisted))
	return sum
}

func (i *Ingester) awaitSearchJob(ctx context.Context, sj *gateway.SearchJob, log *zap.Logger) (*gateway.SearchJob, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for sj.Status == gateway.SearchJobInProgress || sj.Status == "" {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await search job %s: %w", sj.ID, ctx.Err())
		case <-ticker.C:
		}
		next, err := i.search.GetIDsJob(ctx, sj.ID)
		if err != nil {
			if gateway.IsRetryable(err) {
				log.Debug("search job poll failed", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("poll search job %s: %w", sj.ID, err)
		}
		sj = next
	}
	return sj, nil
}
