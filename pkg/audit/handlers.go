package audit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/httputil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ScopeFunc authorizes an audit read for the caller of r. It returns the tenant
// the caller is confined to, or nil for unrestricted access.
type ScopeFunc func(r *http.Request) (*int64, error)

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	source Source
	scope  ScopeFunc
}

// NewHandlers creates new audit handlers
func NewHandlers(source Source, scope ScopeFunc) *Handlers {
	return &Handlers{
		source: source,
		scope:  scope,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.getStats).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.scopedFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.source.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err, nil)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": entries,
		"count":  len(entries),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.scopedFilter(w, r)
	if !ok {
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	entries, err := h.source.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err, nil)
		return
	}
	data, err := Export(entries, format)
	if err != nil {
		httputil.WriteError(w, domainerr.Wrap(err, domainerr.CodeInvalidInput, err.Error()), nil)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.Write(data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.scopedFilter(w, r)
	if !ok {
		return
	}

	stats, err := h.source.GetStats(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err, nil)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// scopedFilter parses the filter and confines it to the caller's tenant
func (h *Handlers) scopedFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err, nil)
		return SearchFilter{}, false
	}

	tenantID, err := h.scope(r)
	if err != nil {
		httputil.WriteError(w, err, nil)
		return SearchFilter{}, false
	}
	if tenantID != nil {
		if filter.TenantID != nil && *filter.TenantID != *tenantID {
			httputil.WriteError(w, domainerr.New(domainerr.CodeCrossTenantForbidden, "the audit trail of another tenant is not visible"), nil)
			return SearchFilter{}, false
		}
		filter.TenantID = tenantID
	}
	return filter, true
}

// parseFilter parses search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		SubjectType: SubjectType(query.Get("subject_type")),
		SubjectID:   query.Get("subject_id"),
		RequestID:   query.Get("request_id"),
		SortOrder:   query.Get("sort_order"),
	}

	var err error
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		return filter, err
	}
	if filter.ActorID, err = httputil.ParseQueryInt64Ptr(r, "actor_id"); err != nil {
		return filter, err
	}
	if filter.TenantID, err = httputil.ParseQueryInt64Ptr(r, "tenant_id"); err != nil {
		return filter, err
	}

	for _, a := range strings.Split(query.Get("actions"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			filter.Actions = append(filter.Actions, Action(a))
		}
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		return filter, err
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		return filter, domainerr.New(domainerr.CodeInvalidInput, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Offset < 0 {
		return filter, domainerr.New(domainerr.CodeInvalidInput, "offset cannot be negative")
	}

	switch filter.SortOrder {
	case "":
		filter.SortOrder = "desc"
	case "asc", "desc":
	default:
		return filter, domainerr.New(domainerr.CodeInvalidInput, "sort_order must be asc or desc")
	}
	return filter, nil
}
