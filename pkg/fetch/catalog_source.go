package fetch

import (
	"context"

	"github.com/folio-org/mod-data-export/pkg/job"
)

// CatalogReader looks records up in the local catalog replica.
type CatalogReader interface {
	FindCatalogRecords(ctx context.Context, kind string, ids []string) ([]job.Record, error)
}

// CatalogSource adapts a CatalogReader to RecordSource.
type CatalogSource struct {
	Reader CatalogReader
}

func (s CatalogSource) FetchByIDs(ctx context.Context, kind job.IDType, ids []string, limit int) ([]job.Record, error) {
	records, err := s.Reader.FindCatalogRecords(ctx, kind.Kind(), ids)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
