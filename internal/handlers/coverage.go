package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hangtight/bookingd/internal/coverage"
	"github.com/hangtight/bookingd/internal/geo"
	"github.com/hangtight/bookingd/internal/storage"
)

type coverageQueryRequest struct {
	// Either a single zip or a drawn polygon of lat/lng vertices.
	Zip          string      `json:"zip,omitempty"`
	Polygon      []geo.Point `json:"polygon,omitempty"`
	MinAreaRatio float64     `json:"min_area_ratio,omitempty"`
	// WorkerID scopes the summary's "mine" flag to the asking worker.
	WorkerID string `json:"worker_id,omitempty"`
}

type coverageSummary struct {
	Total            int `json:"total"`
	AssignedToWorker int `json:"assigned_to_worker"`
	AssignedToOther  int `json:"assigned_to_other"`
	Unassigned       int `json:"unassigned"`
}

type coverageQueryResponse struct {
	Zipcodes []string              `json:"zipcodes"`
	Summary  coverageSummary       `json:"summary"`
	PerZip   []coverage.ZipSummary `json:"per_zip"`
}

func summarize(rows []coverage.ZipSummary) coverageSummary {
	s := coverageSummary{Total: len(rows)}
	for _, row := range rows {
		switch {
		case row.Mine:
			s.AssignedToWorker++
		case row.WorkerCount > 0:
			s.AssignedToOther++
		default:
			s.Unassigned++
		}
	}
	return s
}

func (h *Handler) CoverageQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req coverageQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var zips []string
	var err error
	switch {
	case len(req.Polygon) > 0:
		ratio := req.MinAreaRatio
		if ratio <= 0 {
			ratio = geo.DefaultMinAreaRatio
		}
		zips, err = h.geoResolver.ZipsForPolygon(ctx, req.Polygon, ratio)
	case req.Zip != "":
		zips, err = h.geoResolver.KnownZips(ctx, []string{strings.TrimSpace(req.Zip)})
	default:
		http.Error(w, "zip or polygon required", http.StatusBadRequest)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrInvalidPolygon), errors.Is(err, geo.ErrInvalidZip):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, geo.ErrDatasetUnavailable):
			http.Error(w, "coverage data unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("coverage query failed", "err", err)
			http.Error(w, "coverage query failed", http.StatusInternalServerError)
		}
		return
	}

	summary, err := h.coverageRepo.SummaryForZips(ctx, strings.TrimSpace(req.WorkerID), zips)
	if err != nil {
		h.logger.Error("coverage summary failed", "err", err)
		http.Error(w, "coverage query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, coverageQueryResponse{
		Zipcodes: zips,
		Summary:  summarize(summary),
		PerZip:   summary,
	})
}

type offerActionRequest struct {
	OfferID string `json:"offer_id"`
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	h.resolveOffer(w, r, true)
}

func (h *Handler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	h.resolveOffer(w, r, false)
}

func (h *Handler) resolveOffer(w http.ResponseWriter, r *http.Request, accept bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req offerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	offerID := strings.TrimSpace(req.OfferID)
	if offerID == "" {
		http.Error(w, "offer_id required", http.StatusBadRequest)
		return
	}

	var res coverage.OfferResult
	var err error
	if accept {
		res, err = h.assigner.AcceptOffer(r.Context(), h.coverageRepo, offerID)
	} else {
		res, err = h.coverageRepo.DeclineOffer(r.Context(), offerID)
	}
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "offer not found", http.StatusNotFound)
			return
		}
		h.logger.Error("offer resolve failed", "offer_id", offerID, "err", err)
		http.Error(w, "offer resolve failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
