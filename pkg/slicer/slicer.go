// Package slicer partitions a job's identifier set, or the whole catalog
// of one kind, into bounded export file units.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

// DefaultSliceSize is the maximum number of ids per unit.
const DefaultSliceSize = 100_000

// ErrPartition wraps every partitioning failure. A run that sees it must
// fail the job.
var ErrPartition = errors.New("partitioning failed")

// Policy selects which id set a job is sliced over.
type Policy int

const (
	// PolicyIngested slices the job's ingested identifier set.
	PolicyIngested Policy = iota
	PolicyAllInstances
	PolicyAllHoldings
	PolicyAllAuthorities
)

func (p Policy) String() string {
	switch p {
	case PolicyIngested:
		return "ingested"
	case PolicyAllInstances:
		return "all-instances"
	case PolicyAllHoldings:
		return "all-holdings"
	case PolicyAllAuthorities:
		return "all-authorities"
	}
	return "policy(" + strconv.Itoa(int(p)) + ")"
}

// PolicyFor picks the policy from the request's id type and all flag.
func PolicyFor(req job.ExportRequest) Policy {
	if !req.All {
		return PolicyIngested
	}
	switch req.IDType {
	case job.IDTypeHolding:
		return PolicyAllHoldings
	case job.IDTypeAuthority:
		return PolicyAllAuthorities
	default:
		return PolicyAllInstances
	}
}

// Partitioner runs the storage-side partitioning.
type Partitioner interface {
	PartitionIdentifiers(ctx context.Context, jobID string, spec exportstore.PartitionSpec) ([]job.FileUnit, error)
	PartitionCatalog(ctx context.Context, jobID string, filter exportstore.CatalogFilter, spec exportstore.PartitionSpec) ([]job.FileUnit, error)
}

// Input is everything one slicing run needs.
type Input struct {
	Execution      *job.Execution
	FileDefinition *job.FileDefinition
	Request        job.ExportRequest
}

type strategy func(ctx context.Context, p Partitioner, in Input, sliceSize int) ([]job.FileUnit, error)

var strategies = map[Policy]strategy{
	PolicyIngested:       sliceIngested,
	PolicyAllInstances:   sliceCatalog(job.IDTypeInstance),
	PolicyAllHoldings:    sliceCatalog(job.IDTypeHolding),
	PolicyAllAuthorities: sliceCatalog(job.IDTypeAuthority),
}

// Slicer creates the units of a job.
type Slicer struct {
	store     Partitioner
	sliceSize int
	logger    *zap.Logger
}

// New creates a Slicer. sliceSize <= 0 selects DefaultSliceSize.
func New(store Partitioner, sliceSize int, logger *zap.Logger) *Slicer {
	if sliceSize <= 0 {
		sliceSize = DefaultSliceSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slicer{store: store, sliceSize: sliceSize, logger: logger}
}

// SliceSize returns the configured slice size.
func (s *Slicer) SliceSize() int { return s.sliceSize }

// Slice persists the units of in.Execution, replacing any earlier ones,
// and returns them ordered by lower id bound. Errors wrap ErrPartition.
func (s *Slicer) Slice(ctx context.Context, in Input) ([]job.FileUnit, error) {
	if in.Execution == nil {
		return nil, fmt.Errorf("%w: execution is required", ErrPartition)
	}
	policy := PolicyFor(in.Request)
	run, ok := strategies[policy]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for %s", ErrPartition, policy)
	}

	units, err := run(ctx, s.store, in, s.sliceSize)
	if err != nil {
		s.logger.Error("partitioning failed",
			zap.String("job_id", in.Execution.ID),
			zap.Stringer("policy", policy),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPartition, err)
	}

	s.logger.Info("job sliced",
		zap.String("job_id", in.Execution.ID),
		zap.Stringer("policy", policy),
		zap.Int("slice_size", s.sliceSize),
		zap.Int("units", len(units)),
	)
	return units, nil
}

func sliceIngested(ctx context.Context, p Partitioner, in Input, sliceSize int) ([]job.FileUnit, error) {
	if in.FileDefinition == nil {
		return nil, errors.New("file definition is required")
	}
	return p.PartitionIdentifiers(ctx, in.Execution.ID, spec(in.Execution.ID, in.FileDefinition.BaseName(), sliceSize))
}

func sliceCatalog(kind job.IDType) strategy {
	return func(ctx context.Context, p Partitioner, in Input, sliceSize int) ([]job.FileUnit, error) {
		filter := exportstore.CatalogFilter{
			Kind:              kind.Kind(),
			IncludeDeleted:    in.Request.IncludeDeleted,
			IncludeSuppressed: in.Request.SuppressedFromDiscovery,
		}
		base := fmt.Sprintf("%s-all-%d", kind.Kind(), in.Execution.HRID)
		return p.PartitionCatalog(ctx, in.Execution.ID, filter, spec(in.Execution.ID, base, sliceSize))
	}
}

func spec(jobID, base string, sliceSize int) exportstore.PartitionSpec {
	return exportstore.PartitionSpec{
		SliceSize:        sliceSize,
		FileNameTemplate: FileNameTemplate(base),
		LocationPrefix:   objectstore.JobFolder(jobID),
	}
}

// FileNameTemplate returns the unit name template for base.
func FileNameTemplate(base string) string {
	return base + "-" + exportstore.PlaceholderFrom + "_" + exportstore.PlaceholderTo + ".mrc"
}
