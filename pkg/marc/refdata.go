package marc

import (
	"context"
	"fmt"
)

// ReferenceData holds lookup tables by name, each mapping a value (usually
// an id) to its display form.
type ReferenceData map[string]map[string]string

// Lookup translates value through table, returning value itself when the
// table or entry is missing.
func (r ReferenceData) Lookup(table, value string) string {
	if t, ok := r[table]; ok {
		if v, ok := t[value]; ok {
			return v
		}
	}
	return value
}

// Merge combines a consortium central tenant's tables with an affiliated
// tenant's. Central entries win on conflict.
func Merge(central, affiliated ReferenceData) ReferenceData {
	out := ReferenceData{}
	for _, src := range []ReferenceData{affiliated, central} {
		for name, table := range src {
			dst, ok := out[name]
			if !ok {
				dst = make(map[string]string, len(table))
				out[name] = dst
			}
			for k, v := range table {
				dst[k] = v
			}
		}
	}
	return out
}

// ReferenceSource loads one reference table.
type ReferenceSource interface {
	ReferenceTable(ctx context.Context, name string) (map[string]string, error)
}

// LoadReferenceData loads tables from tenant and, when central is non-nil,
// from the central tenant, merging them with central precedence.
func LoadReferenceData(ctx context.Context, tenant, central ReferenceSource, tables []string) (ReferenceData, error) {
	load := func(src ReferenceSource) (ReferenceData, error) {
		out := ReferenceData{}
		for _, name := range tables {
			t, err := src.ReferenceTable(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("load reference table %s: %w", name, err)
			}
			out[name] = t
		}
		return out, nil
	}

	local, err := load(tenant)
	if err != nil {
		return nil, err
	}
	if central == nil {
		return local, nil
	}
	shared, err := load(central)
	if err != nil {
		return nil, err
	}
	return Merge(shared, local), nil
}
