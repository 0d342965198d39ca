package handlers

import (
	"net/http"

	"github.com/hangtight/bookingd/internal/cleanup"
)

// TriggerCleanup runs every configured sweep once, on demand. It shares the
// exact code path with the scheduled sweeps, so a manual run is no more and
// no less aggressive than the timer.
func (h *Handler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	total := cleanup.Report{}
	for _, s := range h.sweepers {
		report, err := s.SweepOnce(r.Context())
		if err != nil {
			h.logger.Error("manual cleanup sweep failed", "err", err)
			http.Error(w, "cleanup sweep failed", http.StatusInternalServerError)
			return
		}
		total.CleanedUp += report.CleanedUp
		total.CanceledIntents += report.CanceledIntents
		total.FailedCount += report.FailedCount
		total.ExpiredOffers += report.ExpiredOffers
	}
	writeJSON(w, http.StatusOK, total)
}
