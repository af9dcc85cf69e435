// Package mappingprofile loads the mapping and job profiles that drive MARC
// conversion.
//
// Profiles are read from YAML or JSON bundle files and validated against
// an embedded JSON schema. A built-in default job profile is always
// available.
//
// Example bundle (YAML):
//
//	version: "1.0"
//	mappingProfiles:
//	  - id: titles-only
//	    name: Titles only
//	    recordTypes: [INSTANCE]
//	    transformations:
//	      - fieldId: title
//	        path: $.title
//	        tag: "245"
//	        ind1: "0"
//	        ind2: "0"
//	        subfield: a
//	jobProfiles:
//	  - id: titles
//	    name: Titles
//	    mappingProfileId: titles-only
package mappingprofile

import (
	"github.com/folio-org/mod-data-export/pkg/job"
)

// Bundle is the content of one profile file.
type Bundle struct {
	Schema          string           `json:"$schema,omitempty" yaml:"$schema,omitempty"`
	Version         string           `json:"version" yaml:"version"`
	MappingProfiles []MappingProfile `json:"mappingProfiles,omitempty" yaml:"mappingProfiles,omitempty"`
	JobProfiles     []JobProfile     `json:"jobProfiles,omitempty" yaml:"jobProfiles,omitempty"`
}

// MappingProfile describes how catalog record JSON maps to MARC fields.
type MappingProfile struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	RecordTypes     []job.IDType     `json:"recordTypes" yaml:"recordTypes"`
	Transformations []Transformation `json:"transformations" yaml:"transformations"`
}

// Supports reports whether the profile maps records of kind.
func (p *MappingProfile) Supports(kind job.IDType) bool {
	for _, rt := range p.RecordTypes {
		if rt == kind {
			return true
		}
	}
	return false
}

// ReferenceTables lists the reference data tables the profile looks up.
func (p *MappingProfile) ReferenceTables() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range p.Transformations {
		if t.ReferenceData == "" {
			continue
		}
		if _, ok := seen[t.ReferenceData]; ok {
			continue
		}
		seen[t.ReferenceData] = struct{}{}
		out = append(out, t.ReferenceData)
	}
	return out
}

// Transformation maps the values selected by Path to one MARC subfield.
// Transformations sharing a FieldID build the same field.
type Transformation struct {
	FieldID string `json:"fieldId" yaml:"fieldId"`

	// RecordType restricts the transformation to one record kind.
	RecordType job.IDType `json:"recordType,omitempty" yaml:"recordType,omitempty"`

	// Path is a JSON path into the record, e.g. $.identifiers[*].value.
	Path string `json:"path" yaml:"path"`

	Tag      string `json:"tag" yaml:"tag"`
	Ind1     string `json:"ind1,omitempty" yaml:"ind1,omitempty"`
	Ind2     string `json:"ind2,omitempty" yaml:"ind2,omitempty"`
	Subfield string `json:"subfield,omitempty" yaml:"subfield,omitempty"`

	// ReferenceData names a lookup table translating the selected value,
	// e.g. "locations" maps a location id to its name.
	ReferenceData string `json:"referenceData,omitempty" yaml:"referenceData,omitempty"`
}

// AppliesTo reports whether the transformation maps records of kind.
func (t Transformation) AppliesTo(kind job.IDType) bool {
	return t.RecordType == "" || t.RecordType == kind
}

// IsControlField reports whether Tag names a control field (001-009).
func (t Transformation) IsControlField() bool {
	return len(t.Tag) == 3 && t.Tag < "010"
}

// JobProfile binds a named export configuration to a mapping profile.
type JobProfile struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	MappingProfileID string `json:"mappingProfileId" yaml:"mappingProfileId"`
}
