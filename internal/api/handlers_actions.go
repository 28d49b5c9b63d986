package api

import (
	"errors"
	"net/http"

	"deployflow/internal/db"
)

// actionsSummaryRow is scanned straight from the aggregate query.
type actionsSummaryRow struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

// handleActionsSummary reports fleet-wide action counts per status. It
// goes through the raw pool instead of the ORM: a grouped aggregate is
// cheaper as one SQL statement, and reporting reads should not compete
// for ORM connections with the write path.
func (a *API) handleActionsSummary(w http.ResponseWriter, r *http.Request) {
	if a.store.DB == nil {
		respondError(w, http.StatusFailedDependency, errors.New("reporting pool not configured"))
		return
	}

	var rows []actionsSummaryRow
	err := db.Select(r.Context(), a.store.DB, &rows,
		`SELECT status, COUNT(*) AS count FROM actions GROUP BY status ORDER BY status`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	summary := map[string]int64{}
	for _, row := range rows {
		summary[row.Status] = row.Count
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
