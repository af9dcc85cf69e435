package mappingprofile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/folio-org/mod-data-export/internal/assets/schemas"
)

var (
	ErrSchemaNotFound   = errors.New("profile schema not found")
	ErrValidationFailed = errors.New("profile validation failed")
)

// ValidationError is one problem in a bundle. Path is a JSON pointer such
// as "/mappingProfiles/0/id".
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every problem found in a bundle.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ErrValidationFailed.Error()
	case 1:
		return e[0].Error()
	}
	parts := make([]string, 0, len(e))
	for _, ve := range e {
		parts = append(parts, ve.Error())
	}
	return fmt.Sprintf("%s (%d problems): %s", ErrValidationFailed, len(e), strings.Join(parts, "; "))
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

var bundleValidator = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.ProfileBundleSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded bundle schema is empty", ErrSchemaNotFound)
	}
	v, err := schema.NewValidator(schemasassets.ProfileBundleSchema)
	if err != nil {
		return nil, fmt.Errorf("compile profile bundle schema: %w", err)
	}
	return v, nil
})

// ValidateRaw checks a JSON bundle against the embedded schema. Only
// error-severity diagnostics fail validation.
func ValidateRaw(jsonData []byte) error {
	v, err := bundleValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("validate profile bundle: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
