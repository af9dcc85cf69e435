package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/folio-org/mod-data-export/internal/errors"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/sweeper"
)

const (
	// HeaderTenant selects the tenant of a request.
	HeaderTenant = "X-Okapi-Tenant"
	// HeaderUserID identifies the requesting user.
	HeaderUserID = "X-Okapi-User-Id"

	defaultPageSize = 100
	maxPageSize     = 1000
)

// Exporter submits and manages export jobs.
type Exporter interface {
	PostDataExport(ctx context.Context, req job.ExportRequest) (*job.Execution, error)
	QuickExport(ctx context.Context, ids []string, req job.ExportRequest) (*job.Execution, error)
	ExportDeleted(ctx context.Context, from, to time.Time, req job.ExportRequest) (*job.Execution, error)
	CreateFileDefinition(ctx context.Context, fileName string, format job.FileFormat) (*job.FileDefinition, error)
	Upload(ctx context.Context, fileDefinitionID string, body io.Reader, size int64) (*job.FileDefinition, error)
	DeleteJob(ctx context.Context, id string) error
	OpenExportedFile(ctx context.Context, jobID, fileID string) (io.ReadCloser, *job.FileUnit, error)
}

// JobReader reads durable job state.
type JobReader interface {
	GetJobExecution(ctx context.Context, id string) (*job.Execution, error)
	ListJobExecutions(ctx context.Context, q exportstore.JobQuery) ([]job.Execution, int, error)
	ListErrorLogs(ctx context.Context, jobID string) ([]job.ErrorLog, error)
	GetFileDefinition(ctx context.Context, id string) (*job.FileDefinition, error)
}

// Maintenance runs the sweeps on demand.
type Maintenance interface {
	ExpireJobs(ctx context.Context) (sweeper.ExpireResult, error)
	Cleanup(ctx context.Context) (sweeper.CleanupResult, error)
}

// APIConfig configures the data export routes.
type APIConfig struct {
	// Tenant is the process tenant. Requests naming another tenant are
	// rejected.
	Tenant string

	// MaxUploadBytes caps identifier uploads. Zero means 512 MiB.
	MaxUploadBytes int64
}

// API serves the /data-export routes.
type API struct {
	exporter Exporter
	jobs     JobReader
	sweeps   Maintenance
	cfg      APIConfig
}

func NewAPI(exporter Exporter, jobs JobReader, sweeps Maintenance, cfg APIConfig) *API {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	return &API{exporter: exporter, jobs: jobs, sweeps: sweeps, cfg: cfg}
}

// Routes returns the router for the /data-export prefix.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.tenantGuard)

	r.Post("/export", a.postExport)
	r.Post("/export-all", a.postExportAll)
	r.Post("/quick-export", a.postQuickExport)
	r.Post("/export-deleted", a.postExportDeleted)

	r.Post("/file-definitions", a.postFileDefinition)
	r.Get("/file-definitions/{id}", a.getFileDefinition)
	r.Post("/file-definitions/{id}/upload", a.uploadFile)

	r.Get("/job-executions", a.listJobs)
	r.Get("/job-executions/{id}", a.getJob)
	r.Delete("/job-executions/{id}", a.deleteJob)
	r.Get("/job-executions/{id}/errors", a.listErrors)
	r.Get("/job-executions/{id}/download/{fileId}", a.download)

	r.Post("/expire-jobs", a.expireJobs)
	r.Post("/clean-up-files", a.cleanUpFiles)
	return r
}

func (a *API) tenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t := r.Header.Get(HeaderTenant); t != "" && a.cfg.Tenant != "" && t != a.cfg.Tenant {
			respondWithError(w, r, apperrors.Validation(fmt.Sprintf("tenant %q is not served by this instance", t), nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) baseRequest(r *http.Request) job.ExportRequest {
	tenant := r.Header.Get(HeaderTenant)
	if tenant == "" {
		tenant = a.cfg.Tenant
	}
	return job.ExportRequest{Tenant: tenant, RequestedBy: r.Header.Get(HeaderUserID)}
}

type exportBody struct {
	FileDefinitionID string `json:"fileDefinitionId"`
	JobProfileID     string `json:"jobProfileId"`
	IDType           string `json:"idType"`
}

type exportAllBody struct {
	JobProfileID            string `json:"jobProfileId"`
	IDType                  string `json:"idType"`
	DeletedRecords          bool   `json:"deletedRecords"`
	SuppressedFromDiscovery *bool  `json:"suppressedFromDiscovery"`
}

type quickExportBody struct {
	UUIDs        []string `json:"uuids"`
	JobProfileID string   `json:"jobProfileId"`
	IDType       string   `json:"idType"`
}

type exportDeletedBody struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	JobProfileID string    `json:"jobProfileId"`
	IDType       string    `json:"idType"`
}

type fileDefinitionBody struct {
	FileName     string `json:"fileName"`
	UploadFormat string `json:"uploadFormat"`
}

type jobList struct {
	JobExecutions []job.Execution `json:"jobExecutions"`
	TotalRecords  int             `json:"totalRecords"`
}

type errorLogList struct {
	ErrorLogs    []job.ErrorLog `json:"errorLogs"`
	TotalRecords int            `json:"totalRecords"`
}

func (a *API) postExport(w http.ResponseWriter, r *http.Request) {
	var body exportBody
	if !decode(w, r, &body) {
		return
	}
	if body.FileDefinitionID == "" {
		respondWithError(w, r, apperrors.Validation("fileDefinitionId is required", nil))
		return
	}
	req := a.baseRequest(r)
	req.FileDefinitionID = body.FileDefinitionID
	req.JobProfileID = body.JobProfileID
	req.IDType = job.IDType(body.IDType)
	a.submitted(w, r)(a.exporter.PostDataExport(r.Context(), req))
}

func (a *API) postExportAll(w http.ResponseWriter, r *http.Request) {
	var body exportAllBody
	if !decode(w, r, &body) {
		return
	}
	req := a.baseRequest(r)
	req.All = true
	req.JobProfileID = body.JobProfileID
	req.IDType = job.IDType(body.IDType)
	req.IncludeDeleted = body.DeletedRecords
	req.SuppressedFromDiscovery = body.SuppressedFromDiscovery == nil || *body.SuppressedFromDiscovery
	a.submitted(w, r)(a.exporter.PostDataExport(r.Context(), req))
}

func (a *API) postQuickExport(w http.ResponseWriter, r *http.Request) {
	var body quickExportBody
	if !decode(w, r, &body) {
		return
	}
	req := a.baseRequest(r)
	req.JobProfileID = body.JobProfileID
	req.IDType = job.IDType(body.IDType)
	a.submitted(w, r)(a.exporter.QuickExport(r.Context(), body.UUIDs, req))
}

func (a *API) postExportDeleted(w http.ResponseWriter, r *http.Request) {
	var body exportDeletedBody
	if !decode(w, r, &body) {
		return
	}
	req := a.baseRequest(r)
	req.JobProfileID = body.JobProfileID
	req.IDType = job.IDType(body.IDType)
	a.submitted(w, r)(a.exporter.ExportDeleted(r.Context(), body.From, body.To, req))
}

// submitted answers 202 with the scheduled job.
func (a *API) submitted(w http.ResponseWriter, r *http.Request) func(*job.Execution, error) {
	return func(exec *job.Execution, err error) {
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		apperrors.WriteJSON(w, http.StatusAccepted, exec)
	}
}

func (a *API) postFileDefinition(w http.ResponseWriter, r *http.Request) {
	var body fileDefinitionBody
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.FileName) == "" {
		respondWithError(w, r, apperrors.Validation("fileName is required", nil))
		return
	}
	format := job.FileFormat(strings.ToUpper(body.UploadFormat))
	switch format {
	case "":
		format = job.FormatCSV
	case job.FormatCSV, job.FormatCQL:
	default:
		respondWithError(w, r, apperrors.Validation(fmt.Sprintf("unsupported uploadFormat %q", body.UploadFormat), nil))
		return
	}
	fd, err := a.exporter.CreateFileDefinition(r.Context(), body.FileName, format)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, fd)
}

func (a *API) getFileDefinition(w http.ResponseWriter, r *http.Request) {
	fd, err := a.jobs.GetFileDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, fd)
}

func (a *API) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.cfg.MaxUploadBytes {
		respondWithError(w, r, apperrors.Validation("upload exceeds the size limit", nil))
		return
	}
	body := http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes)
	fd, err := a.exporter.Upload(r.Context(), chi.URLParam(r, "id"), body, r.ContentLength)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.Validation("upload exceeds the size limit", err)
		}
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, fd)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q, err := jobQuery(r)
	if err != nil {
		respondWithError(w, r, apperrors.Validation(err.Error(), err))
		return
	}
	jobs, total, err := a.jobs.ListJobExecutions(r.Context(), q)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Execution{}
	}
	apperrors.WriteJSON(w, http.StatusOK, jobList{JobExecutions: jobs, TotalRecords: total})
}

func jobQuery(r *http.Request) (exportstore.JobQuery, error) {
	q := exportstore.JobQuery{Limit: defaultPageSize}
	values := r.URL.Query()
	for _, raw := range values["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			s, err := job.ParseStatus(strings.ToUpper(part))
			if err != nil {
				return q, err
			}
			q.Statuses = append(q.Statuses, s)
		}
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = min(n, maxPageSize)
	}
	if v := values.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", v)
		}
		q.Offset = n
	}
	return q, nil
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	exec, err := a.jobs.GetJobExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, exec)
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.exporter.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listErrors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.jobs.GetJobExecution(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	logs, err := a.jobs.ListErrorLogs(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if logs == nil {
		logs = []job.ErrorLog{}
	}
	apperrors.WriteJSON(w, http.StatusOK, errorLogList{ErrorLogs: logs, TotalRecords: len(logs)})
}

func (a *API) download(w http.ResponseWriter, r *http.Request) {
	rc, unit, err := a.exporter.OpenExportedFile(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "fileId"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/marc")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", unit.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("stream export file", zap.String("file_id", unit.ID), zap.Error(err))
	}
}

func (a *API) expireJobs(w http.ResponseWriter, r *http.Request) {
	res, err := a.sweeps.ExpireJobs(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, res)
}

func (a *API) cleanUpFiles(w http.ResponseWriter, r *http.Request) {
	res, err := a.sweeps.Cleanup(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, res)
}

// decode reads a JSON body into v, answering 400 on failure. An empty
// body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.Validation("invalid request body", err))
		return false
	}
	return true
}
