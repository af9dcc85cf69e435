package mappingprofile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/pkg/job"
)

const validBundleYAML = `version: "1.0"
mappingProfiles:
  - id: titles-only
    name: Titles only
    recordTypes: [INSTANCE]
    transformations:
      - fieldId: title
        path: $.title
        tag: "245"
        ind1: "0"
        ind2: "0"
        subfield: a
jobProfiles:
  - id: titles
    name: Titles
    mappingProfileId: titles-only
`

func TestLoadFromBytes_YAML(t *testing.T) {
	b, err := LoadFromBytes([]byte(validBundleYAML), "profiles.yaml")
	require.NoError(t, err)
	require.Len(t, b.MappingProfiles, 1)
	require.Len(t, b.JobProfiles, 1)

	mp := b.MappingProfiles[0]
	assert.Equal(t, "titles-only", mp.ID)
	assert.True(t, mp.Supports(job.IDTypeInstance))
	assert.False(t, mp.Supports(job.IDTypeHolding))
	assert.Equal(t, "245", mp.Transformations[0].Tag)
	assert.Equal(t, "a", mp.Transformations[0].Subfield)
}

func TestLoadFromBytes_JSON(t *testing.T) {
	data := `{"version":"1.0","jobProfiles":[{"id":"j","name":"J","mappingProfileId":"m"}]}`
	b, err := LoadFromBytes([]byte(data), "profiles.json")
	require.NoError(t, err)
	assert.Equal(t, "m", b.JobProfiles[0].MappingProfileID)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{name: "empty", data: "", path: "p.yaml"},
		{name: "bad yaml", data: "version: [", path: "p.yaml"},
		{name: "bad json", data: "{", path: "p.json"},
		{name: "missing version", data: "mappingProfiles: []", path: "p.yaml"},
		{name: "unknown field", data: "version: \"1.0\"\nextra: true\n", path: "p.yaml"},
		{name: "bad tag", data: `version: "1.0"
mappingProfiles:
  - id: m
    name: M
    recordTypes: [INSTANCE]
    transformations:
      - fieldId: f
        path: $.title
        tag: "24"
`, path: "p.yaml"},
		{name: "unknown record type", data: `version: "1.0"
mappingProfiles:
  - id: m
    name: M
    recordTypes: [ITEM]
    transformations:
      - {fieldId: f, path: $.title, tag: "245"}
`, path: "p.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), tt.path)
			assert.Error(t, err)
		})
	}
}

func TestValidationErrors_Unwrap(t *testing.T) {
	_, err := LoadFromBytes([]byte("version: \"2.0\"\n"), "p.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestLoadRegistry_Dir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validBundleYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r, err := LoadRegistry(dir)
	require.NoError(t, err)

	jp, mp, err := r.Resolve("titles")
	require.NoError(t, err)
	assert.Equal(t, "Titles", jp.Name)
	assert.Equal(t, "titles-only", mp.ID)

	jp, mp, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultJobProfileID, jp.ID)
	assert.Equal(t, DefaultMappingProfileID, mp.ID)

	_, _, err = r.Resolve("missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	assert.Len(t, r.JobProfiles(), 2)
}

func TestRegistry_AddRejectsDanglingJobProfile(t *testing.T) {
	r := NewRegistry()
	err := r.Add(&Bundle{Version: "1.0", JobProfiles: []JobProfile{{ID: "j", Name: "J", MappingProfileID: "nope"}}})
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "/jobProfiles/0/mappingProfileId", verrs[0].Path)
}

func TestLoadRegistry_EmptyDir(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Len(t, r.JobProfiles(), 1)
}

func TestDefaultMappingProfile(t *testing.T) {
	mp := DefaultMappingProfile()
	for _, kind := range []job.IDType{job.IDTypeInstance, job.IDTypeHolding, job.IDTypeAuthority} {
		assert.True(t, mp.Supports(kind), kind)
	}
	assert.Equal(t, []string{"locations"}, mp.ReferenceTables())

	hrid := mp.Transformations[0]
	assert.True(t, hrid.IsControlField())
	assert.True(t, hrid.AppliesTo(job.IDTypeHolding))
	assert.False(t, mp.Transformations[1].AppliesTo(job.IDTypeHolding))
}
