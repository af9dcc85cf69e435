// Package marc converts catalog record JSON into MARC 21 records encoded
// as ISO 2709.
package marc

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const (
	fieldTerminator   = 0x1E
	recordTerminator  = 0x1D
	subfieldDelimiter = 0x1F

	leaderLen   = 24
	dirEntryLen = 12

	maxRecordLen = 99999
	maxFieldLen  = 9999
)

var (
	// ErrRecordTooLong indicates a record or field beyond ISO 2709 limits.
	ErrRecordTooLong = errors.New("marc: record exceeds ISO 2709 length limits")

	// ErrMalformed indicates bytes that are not a valid ISO 2709 record.
	ErrMalformed = errors.New("marc: malformed record")
)

// Subfield is one coded value of a data field.
type Subfield struct {
	Code  byte
	Value string
}

// Field is a control field (tag 001-009, Value set) or a data field
// (indicators and subfields set).
type Field struct {
	Tag       string
	Value     string
	Ind1      byte
	Ind2      byte
	Subfields []Subfield
}

// IsControl reports whether f is a control field.
func (f Field) IsControl() bool { return f.Tag < "010" }

// Subfield returns the first value of subfield code.
func (f Field) Subfield(code byte) (string, bool) {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value, true
		}
	}
	return "", false
}

// Record is a MARC record.
type Record struct {
	Leader [leaderLen]byte
	Fields []Field
}

// NewRecord returns an empty record with a leader for recordType (leader
// position 06) and bibLevel (position 07).
func NewRecord(recordType, bibLevel byte) *Record {
	r := &Record{}
	copy(r.Leader[:], "00000nam a2200000   4500")
	r.Leader[6] = recordType
	r.Leader[7] = bibLevel
	return r
}

// Add appends a field.
func (r *Record) Add(f Field) { r.Fields = append(r.Fields, f) }

// FieldsByTag returns the fields with tag.
func (r *Record) FieldsByTag(tag string) []Field {
	var out []Field
	for _, f := range r.Fields {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

// MarshalBinary encodes r as ISO 2709. Fields are written in tag order;
// fields sharing a tag keep their relative order.
func (r *Record) MarshalBinary() ([]byte, error) {
	fields := append([]Field(nil), r.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Tag < fields[j].Tag })

	var dir, data bytes.Buffer
	for _, f := range fields {
		if len(f.Tag) != 3 {
			return nil, fmt.Errorf("marc: invalid tag %q", f.Tag)
		}
		start := data.Len()
		if f.IsControl() {
			data.WriteString(f.Value)
		} else {
			data.WriteByte(indicator(f.Ind1))
			data.WriteByte(indicator(f.Ind2))
			for _, sf := range f.Subfields {
				data.WriteByte(subfieldDelimiter)
				data.WriteByte(sf.Code)
				data.WriteString(sf.Value)
			}
		}
		data.WriteByte(fieldTerminator)

		length := data.Len() - start
		if length > maxFieldLen {
			return nil, fmt.Errorf("%w: field %s is %d bytes", ErrRecordTooLong, f.Tag, length)
		}
		fmt.Fprintf(&dir, "%s%04d%05d", f.Tag, length, start)
	}
	dir.WriteByte(fieldTerminator)

	base := leaderLen + dir.Len()
	total := base + data.Len() + 1
	if total > maxRecordLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLong, total)
	}

	leader := r.Leader
	copy(leader[0:5], fmt.Sprintf("%05d", total))
	leader[10] = '2'
	leader[11] = '2'
	copy(leader[12:17], fmt.Sprintf("%05d", base))
	copy(leader[20:24], "4500")

	out := make([]byte, 0, total)
	out = append(out, leader[:]...)
	out = append(out, dir.Bytes()...)
	out = append(out, data.Bytes()...)
	out = append(out, recordTerminator)
	return out, nil
}

// Decode parses one ISO 2709 record from the start of data and returns it
// with the number of bytes consumed.
func Decode(data []byte) (*Record, int, error) {
	if len(data) < leaderLen+1 {
		return nil, 0, fmt.Errorf("%w: short leader", ErrMalformed)
	}
	total, err := strconv.Atoi(string(data[0:5]))
	if err != nil || total > len(data) || total < leaderLen+2 {
		return nil, 0, fmt.Errorf("%w: bad record length", ErrMalformed)
	}
	base, err := strconv.Atoi(string(data[12:17]))
	if err != nil || base >= total || base < leaderLen+1 {
		return nil, 0, fmt.Errorf("%w: bad base address", ErrMalformed)
	}
	if data[total-1] != recordTerminator {
		return nil, 0, fmt.Errorf("%w: missing record terminator", ErrMalformed)
	}

	r := &Record{}
	copy(r.Leader[:], data[:leaderLen])

	dir := data[leaderLen : base-1]
	if len(dir)%dirEntryLen != 0 {
		return nil, 0, fmt.Errorf("%w: directory length %d", ErrMalformed, len(dir))
	}
	body := data[base : total-1]
	for i := 0; i < len(dir); i += dirEntryLen {
		entry := dir[i : i+dirEntryLen]
		tag := string(entry[0:3])
		length, err1 := strconv.Atoi(string(entry[3:7]))
		start, err2 := strconv.Atoi(string(entry[7:12]))
		if err1 != nil || err2 != nil || start+length > len(body) || length < 1 {
			return nil, 0, fmt.Errorf("%w: bad directory entry for %s", ErrMalformed, tag)
		}
		raw := body[start : start+length-1]

		f := Field{Tag: tag}
		if f.IsControl() {
			f.Value = string(raw)
		} else {
			if len(raw) < 2 {
				return nil, 0, fmt.Errorf("%w: field %s lacks indicators", ErrMalformed, tag)
			}
			f.Ind1, f.Ind2 = raw[0], raw[1]
			for _, part := range bytes.Split(raw[2:], []byte{subfieldDelimiter}) {
				if len(part) == 0 {
					continue
				}
				f.Subfields = append(f.Subfields, Subfield{Code: part[0], Value: string(part[1:])})
			}
		}
		r.Fields = append(r.Fields, f)
	}
	return r, total, nil
}

func indicator(b byte) byte {
	if b == 0 {
		return ' '
	}
	return b
}
