package job

import "fmt"

// ErrorCode identifies an error log message template.
type ErrorCode string

const (
	ErrorJobExpired         ErrorCode = "error.jobExpired"
	ErrorInvalidUUIDFormat  ErrorCode = "error.invalidUuidFormat"
	ErrorDuplicatedIDs      ErrorCode = "error.duplicatedIds"
	ErrorRecordNotFound     ErrorCode = "error.recordNotFound"
	ErrorReadingFile        ErrorCode = "error.readingFromInputFile"
	ErrorQueryFailed        ErrorCode = "error.queryFailed"
	ErrorFetchChunk         ErrorCode = "error.fetchChunk"
	ErrorMarcConversion     ErrorCode = "error.marcConversion"
	ErrorSliceExport        ErrorCode = "error.sliceExport"
	ErrorPartitioning       ErrorCode = "error.partitioning"
	ErrorFileDefinition     ErrorCode = "error.fileDefinition"
	ErrorNoRecordsForExport ErrorCode = "error.noRecordsForExport"
)

var errorMessages = map[ErrorCode]string{
	ErrorJobExpired:         "Job was expired: no updates for more than %s",
	ErrorInvalidUUIDFormat:  "Invalid UUID format: %s",
	ErrorDuplicatedIDs:      "%s duplicate identifiers were skipped",
	ErrorRecordNotFound:     "Record not found: %s",
	ErrorReadingFile:        "Error while reading from input file: %s",
	ErrorQueryFailed:        "Search query failed: %s",
	ErrorFetchChunk:         "Failed to fetch records chunk: %s",
	ErrorMarcConversion:     "Could not convert record to MARC: %s",
	ErrorSliceExport:        "Export of file %s failed: %s",
	ErrorPartitioning:       "Failed to partition identifiers: %s",
	ErrorFileDefinition:     "File definition is invalid: %s",
	ErrorNoRecordsForExport: "No records found for export",
}

// Format renders the message for code with values substituted in order.
func (c ErrorCode) Format(values ...string) string {
	tmpl, ok := errorMessages[c]
	if !ok {
		return string(c)
	}
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return fmt.Sprintf(tmpl, args...)
}
