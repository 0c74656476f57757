package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/navfusion/internal/monitoring"
)

// AttachAdminRoutes mounts the debug pages on mux under /debug/: a live SQL
// console over the recorder database, a JSON run listing and an HTML
// innovation report per run.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://fusion.db", r.db, &tailsql.DBOptions{
		Label: "Fusion telemetry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("fusion-runs", "Recorded fusion runs (JSON)", http.HandlerFunc(r.handleRuns))
	debug.Handle("fusion-report", "Innovation report for ?run=<id> (HTML)", http.HandlerFunc(r.handleReport))
	return nil
}

func (r *Recorder) handleRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.Runs(req.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (r *Recorder) handleReport(w http.ResponseWriter, req *http.Request) {
	runID := req.URL.Query().Get("run")
	if runID == "" {
		runID = r.RunID()
	}
	if runID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing run parameter")
		return
	}
	snaps, err := r.Snapshots(req.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(snaps) == 0 {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no snapshots for run %q", runID))
		return
	}

	var buf bytes.Buffer
	if err := RenderInnovationReport(&buf, "Fusion run "+runID, snaps); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
