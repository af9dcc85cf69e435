// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so profile validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// ProfileBundleSchema is the embedded schema for mapping and job profile files.
//
//go:embed profile-bundle.schema.json
var ProfileBundleSchema []byte
