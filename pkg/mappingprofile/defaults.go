package mappingprofile

import "github.com/folio-org/mod-data-export/pkg/job"

// Identifiers of the built-in profiles.
const (
	DefaultJobProfileID     = "6f7f3cd7-9f24-42eb-ae91-91af1cd54d0a"
	DefaultMappingProfileID = "25d81cbe-9686-11ea-bb37-0242ac130002"
)

// DefaultMappingProfile maps the core fields of every record kind.
func DefaultMappingProfile() MappingProfile {
	return MappingProfile{
		ID:          DefaultMappingProfileID,
		Name:        "Default mapping profile",
		RecordTypes: []job.IDType{job.IDTypeInstance, job.IDTypeHolding, job.IDTypeAuthority},
		Transformations: []Transformation{
			{FieldID: "hrid", Path: "$.hrid", Tag: "001"},

			{FieldID: "title", RecordType: job.IDTypeInstance, Path: "$.title", Tag: "245", Ind1: "0", Ind2: "0", Subfield: "a"},
			{FieldID: "identifiers", RecordType: job.IDTypeInstance, Path: "$.identifiers[*].value", Tag: "035", Ind1: " ", Ind2: " ", Subfield: "a"},
			{FieldID: "contributors", RecordType: job.IDTypeInstance, Path: "$.contributors[*].name", Tag: "720", Ind1: " ", Ind2: " ", Subfield: "a"},
			{FieldID: "instance.id", RecordType: job.IDTypeInstance, Path: "$.id", Tag: "999", Ind1: "f", Ind2: "f", Subfield: "i"},

			{FieldID: "location", RecordType: job.IDTypeHolding, Path: "$.permanentLocationId", Tag: "852", Ind1: " ", Ind2: " ", Subfield: "b", ReferenceData: "locations"},
			{FieldID: "location", RecordType: job.IDTypeHolding, Path: "$.callNumber", Tag: "852", Ind1: " ", Ind2: " ", Subfield: "h"},
			{FieldID: "holding.id", RecordType: job.IDTypeHolding, Path: "$.instanceId", Tag: "999", Ind1: "f", Ind2: "f", Subfield: "i"},
			{FieldID: "holding.id", RecordType: job.IDTypeHolding, Path: "$.id", Tag: "999", Ind1: "f", Ind2: "f", Subfield: "h"},

			{FieldID: "heading", RecordType: job.IDTypeAuthority, Path: "$.personalName", Tag: "100", Ind1: "1", Ind2: " ", Subfield: "a"},
			{FieldID: "authority.id", RecordType: job.IDTypeAuthority, Path: "$.id", Tag: "999", Ind1: "f", Ind2: "f", Subfield: "i"},
		},
	}
}

// DefaultJobProfile uses DefaultMappingProfile.
func DefaultJobProfile() JobProfile {
	return JobProfile{
		ID:               DefaultJobProfileID,
		Name:             "Default job profile",
		MappingProfileID: DefaultMappingProfileID,
	}
}
