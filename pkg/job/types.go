// Package job defines the domain model of a MARC export run: job
// executions and their lifecycle, file definitions, export file units and
// the structured error log.
package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IDType selects which catalog record kind an export resolves.
type IDType string

const (
	IDTypeInstance  IDType = "INSTANCE"
	IDTypeHolding   IDType = "HOLDING"
	IDTypeAuthority IDType = "AUTHORITY"
)

// ParseIDType accepts any casing and defaults to INSTANCE when empty.
func ParseIDType(v string) (IDType, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch IDType(v) {
	case "":
		return IDTypeInstance, nil
	case IDTypeInstance, IDTypeHolding, IDTypeAuthority:
		return IDType(v), nil
	}
	return "", fmt.Errorf("unknown id type %q", v)
}

// Kind returns the lowercase catalog kind stored alongside replica records.
func (t IDType) Kind() string {
	return strings.ToLower(string(t))
}

// Progress is the job's counter snapshot.
type Progress struct {
	Total       int64 `json:"total"`
	Exported    int64 `json:"exported"`
	Failed      int64 `json:"failed"`
	Read        int64 `json:"read"`
	TotalToRead int64 `json:"totalToRead"`
}

// RunBy attributes a job to the requesting user.
type RunBy struct {
	UserID    string `json:"userId,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// ExportedFile describes one produced MARC file.
type ExportedFile struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

// Execution is one export run.
type Execution struct {
	ID              string         `json:"id"`
	HRID            int64          `json:"hrId"`
	Status          Status         `json:"status"`
	JobProfileID    string         `json:"jobProfileId,omitempty"`
	JobProfileName  string         `json:"jobProfileName,omitempty"`
	RunBy           RunBy          `json:"runBy"`
	StartedDate     *time.Time     `json:"startedDate,omitempty"`
	LastUpdatedDate time.Time      `json:"lastUpdatedDate"`
	CompletedDate   *time.Time     `json:"completedDate,omitempty"`
	Progress        Progress       `json:"progress"`
	ExportedFiles   []ExportedFile `json:"exportedFiles,omitempty"`
}

// Transition moves the execution to status "to" and maintains the date
// fields: startedDate is set when leaving NEW for IN_PROGRESS, and
// completedDate is set exactly when the new status is terminal.
func (e *Execution) Transition(to Status, now time.Time) error {
	if err := ValidateTransition(e.Status, to); err != nil {
		return err
	}
	if e.Status == StatusNew && to == StatusInProgress && e.StartedDate == nil {
		started := now
		e.StartedDate = &started
	}
	e.Status = to
	e.LastUpdatedDate = now
	if to.IsTerminal() {
		completed := now
		e.CompletedDate = &completed
	} else {
		e.CompletedDate = nil
	}
	return nil
}

// FileFormat is the declared format of an uploaded identifier source.
type FileFormat string

const (
	// FormatCSV is a delimited list, one identifier per line.
	FormatCSV FileFormat = "CSV"
	// FormatCQL holds a query submitted to the search service.
	FormatCQL FileFormat = "CQL"
)

// FileDefinition describes an uploaded identifier source.
type FileDefinition struct {
	ID             string               `json:"id"`
	JobExecutionID string               `json:"jobExecutionId"`
	Format         FileFormat           `json:"uploadFormat"`
	FileName       string               `json:"fileName"`
	Status         FileDefinitionStatus `json:"status"`
	SourcePath     string               `json:"sourcePath,omitempty"`
	Size           int64                `json:"size"`
	CreatedDate    time.Time            `json:"createdDate"`
	UpdatedDate    time.Time            `json:"updatedDate"`
}

// BaseName is the file name without its extension, used to name units.
func (f *FileDefinition) BaseName() string {
	name := f.FileName
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = f.ID
	}
	return name
}

// ExportRequest is the submitted description of what to export.
type ExportRequest struct {
	FileDefinitionID        string `json:"fileDefinitionId,omitempty"`
	JobProfileID            string `json:"jobProfileId,omitempty"`
	IDType                  IDType `json:"idType,omitempty"`
	All                     bool   `json:"all,omitempty"`
	IncludeDeleted          bool   `json:"deletedRecords,omitempty"`
	SuppressedFromDiscovery bool   `json:"suppressedFromDiscovery,omitempty"`
	Tenant                  string `json:"-"`
	RequestedBy             string `json:"-"`
}

// FileUnit is one bounded slice of a job's identifier range.
type FileUnit struct {
	ID             string     `json:"id"`
	JobExecutionID string     `json:"jobExecutionId"`
	FileName       string     `json:"fileName"`
	FileLocation   string     `json:"fileLocation"`
	FromID         string     `json:"fromId"`
	ToID           string     `json:"toId"`
	Count          int64      `json:"count"`
	Status         UnitStatus `json:"status"`
	Exported       int64      `json:"exported"`
	Failed         int64      `json:"failed"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	UpdatedDate    time.Time  `json:"updatedDate"`
}

// AffectedRecord references the record an error log entry is about.
type AffectedRecord struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"recordType,omitempty"`
}

// ErrorLog is one structured diagnostic entry attributed to a job.
type ErrorLog struct {
	ID             string          `json:"id"`
	JobExecutionID string          `json:"jobExecutionId"`
	JobProfileID   string          `json:"jobProfileId,omitempty"`
	ErrorCode      ErrorCode       `json:"errorMessageCode"`
	ErrorValues    []string        `json:"errorMessageValues,omitempty"`
	Message        string          `json:"message"`
	AffectedRecord *AffectedRecord `json:"affectedRecord,omitempty"`
	CreatedDate    time.Time       `json:"createdDate"`
}

// Record is a catalog record body as returned by the record store.
type Record struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}
