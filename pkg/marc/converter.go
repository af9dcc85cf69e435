package marc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/mappingprofile"
)

// ErrNoFields indicates a record for which the profile mapped nothing.
var ErrNoFields = errors.New("marc: no fields mapped")

// Converter turns one catalog record into MARC bytes.
type Converter interface {
	Convert(ctx context.Context, rec job.Record, kind job.IDType, profile *mappingprofile.MappingProfile, ref ReferenceData) ([]byte, error)
}

// ProfileConverter maps records with mapping profile transformations and
// encodes them as ISO 2709. Compiled paths are cached; it is safe for
// concurrent use.
type ProfileConverter struct {
	paths sync.Map // string -> *JSONPath
}

// NewConverter returns a ProfileConverter.
func NewConverter() *ProfileConverter { return &ProfileConverter{} }

var _ Converter = (*ProfileConverter)(nil)

func (c *ProfileConverter) Convert(ctx context.Context, rec job.Record, kind job.IDType, profile *mappingprofile.MappingProfile, ref ReferenceData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := c.Map(rec, kind, profile, ref)
	if err != nil {
		return nil, err
	}
	return r.MarshalBinary()
}

// Map builds the MARC record for rec without encoding it.
func (c *ProfileConverter) Map(rec job.Record, kind job.IDType, profile *mappingprofile.MappingProfile, ref ReferenceData) (*Record, error) {
	if profile == nil {
		return nil, errors.New("marc: mapping profile is required")
	}
	if !profile.Supports(kind) {
		return nil, fmt.Errorf("marc: profile %s does not map %s records", profile.ID, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(rec.Content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("marc: decode record %s: %w", rec.ID, err)
	}

	out := newRecordFor(kind)

	// Groups keep first-appearance order of field ids.
	type group struct {
		first  mappingprofile.Transformation
		values [][]string
		trans  []mappingprofile.Transformation
	}
	var order []string
	groups := map[string]*group{}

	for _, t := range profile.Transformations {
		if !t.AppliesTo(kind) {
			continue
		}
		path, err := c.compile(t.Path)
		if err != nil {
			return nil, fmt.Errorf("marc: transformation %s: %w", t.FieldID, err)
		}
		values := stringify(path.EvalAll(doc))
		if t.ReferenceData != "" {
			for i, v := range values {
				values[i] = ref.Lookup(t.ReferenceData, v)
			}
		}

		g, ok := groups[t.FieldID]
		if !ok {
			g = &group{first: t}
			groups[t.FieldID] = g
			order = append(order, t.FieldID)
		}
		g.trans = append(g.trans, t)
		g.values = append(g.values, values)
	}

	for _, id := range order {
		g := groups[id]
		if g.first.IsControlField() {
			if len(g.values[0]) > 0 && g.values[0][0] != "" {
				out.Add(Field{Tag: g.first.Tag, Value: g.values[0][0]})
			}
			continue
		}

		// The k-th values of each transformation form the k-th field.
		n := 0
		for _, vs := range g.values {
			if len(vs) > n {
				n = len(vs)
			}
		}
		for k := 0; k < n; k++ {
			f := Field{Tag: g.first.Tag, Ind1: firstByte(g.first.Ind1), Ind2: firstByte(g.first.Ind2)}
			for i, t := range g.trans {
				if k >= len(g.values[i]) || g.values[i][k] == "" {
					continue
				}
				code := firstByte(t.Subfield)
				if code == ' ' {
					code = 'a'
				}
				f.Subfields = append(f.Subfields, Subfield{Code: code, Value: g.values[i][k]})
			}
			if len(f.Subfields) > 0 {
				out.Add(f)
			}
		}
	}

	if len(out.Fields) == 0 {
		return nil, fmt.Errorf("%w: record %s", ErrNoFields, rec.ID)
	}
	return out, nil
}

func (c *ProfileConverter) compile(expr string) (*JSONPath, error) {
	if p, ok := c.paths.Load(expr); ok {
		return p.(*JSONPath), nil
	}
	p, err := CompileJSONPath(expr)
	if err != nil {
		return nil, err
	}
	c.paths.Store(expr, p)
	return p, nil
}

func newRecordFor(kind job.IDType) *Record {
	switch kind {
	case job.IDTypeHolding:
		return NewRecord('x', ' ')
	case job.IDTypeAuthority:
		return NewRecord('z', ' ')
	default:
		return NewRecord('a', 'm')
	}
}

// stringify renders selected values as strings, flattening arrays and
// dropping objects and nulls.
func stringify(values []any) []string {
	var out []string
	for _, v := range values {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		case bool:
			out = append(out, strconv.FormatBool(t))
		case []any:
			out = append(out, stringify(t)...)
		}
	}
	return out
}

func firstByte(s string) byte {
	if s == "" {
		return ' '
	}
	return s[0]
}
