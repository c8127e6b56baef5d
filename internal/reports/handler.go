package reports

import (
	"errors"
	"net/http"
	"strings"
	"time"

	alerts "fleetpulse-cloud/internal/alerts/domain"
	ingest "fleetpulse-cloud/internal/ingest/domain"
)

// ExportHandler serves alert and batch exports under /api/v1/exports/.
type ExportHandler struct {
	alerts  alerts.Repository
	batches ingest.BatchReader
}

// NewExportHandler constructs a handler.
func NewExportHandler(alertRepo alerts.Repository, batchReader ingest.BatchReader) (*ExportHandler, error) {
	if alertRepo == nil {
		return nil, errors.New("export handler: nil alert repository")
	}
	if batchReader == nil {
		return nil, errors.New("export handler: nil batch reader")
	}
	return &ExportHandler{alerts: alertRepo, batches: batchReader}, nil
}

// ServeHTTP handles GET /api/v1/exports/{alerts,batches}.{csv,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/")
	base, format, ok := strings.Cut(name, ".")
	if !ok {
		http.Error(w, "format required", http.StatusBadRequest)
		return
	}

	var (
		data []byte
		err  error
	)
	switch base {
	case "alerts":
		data, err = h.exportAlerts(r, format)
	case "batches":
		data, err = h.exportBatches(r, format)
	default:
		http.Error(w, "unknown export", http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, errBadRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+base+`.`+format+`"`)
	_, _ = w.Write(data)
}

var errBadRequest = errors.New("reports: bad request")

func (h *ExportHandler) exportAlerts(r *http.Request, format string) ([]byte, error) {
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		return nil, err
	}
	list, err := h.alerts.List(r.Context(), q.Get("device_id"), q.Get("status"), from, to)
	if err != nil {
		return nil, err
	}
	switch format {
	case "csv":
		return BuildAlertsCSV(list)
	case "xlsx":
		return BuildAlertsXLSX(list)
	case "pdf":
		return BuildAlertsPDF(list)
	default:
		return nil, errBadRequest
	}
}

func (h *ExportHandler) exportBatches(r *http.Request, format string) ([]byte, error) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		return nil, errBadRequest
	}
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		return nil, err
	}
	list, err := h.batches.ListByDevice(r.Context(), deviceID, from, to)
	if err != nil {
		return nil, err
	}
	switch format {
	case "csv":
		return BuildBatchesCSV(list)
	case "xlsx":
		return BuildBatchesXLSX(list)
	case "pdf":
		return BuildBatchesPDF(list)
	default:
		return nil, errBadRequest
	}
}

func parseRange(fromRaw, toRaw string) (from, to time.Time, err error) {
	if fromRaw != "" {
		from, err = time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadRequest
		}
	}
	if toRaw != "" {
		to, err = time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadRequest
		}
	}
	return from, to, nil
}

func contentType(format string) string {
	switch format {
	case "csv":
		return "text/csv"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
