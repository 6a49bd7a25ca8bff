package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vbonduro/dapoerkito/internal/classifier"
	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/service"
)

const historyPageSize = 50

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	predictions, err := s.pipeline.ListHistory(r.Context(), historyPageSize)
	if err != nil {
		s.historyError(w, r, err, "list history")
		return
	}
	counts, err := s.pipeline.LabelCounts(r.Context(), classifier.Labels)
	if err != nil {
		s.historyError(w, r, err, "count labels")
		return
	}

	if err := s.renderPage(w,
		map[string]any{"Predictions": predictions, "Counts": counts, "HistoryEnabled": true, "ActiveNav": "history"},
		"base.html", "pages/history.html", "partials/prediction_row.html",
	); err != nil {
		s.log(r).Error("render page failed", "error", err)
	}
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	pred, err := s.pipeline.GetHistory(r.Context(), id)
	if err != nil {
		s.historyError(w, r, err, "get prediction")
		return
	}

	if err := s.renderPage(w,
		map[string]any{"Prediction": pred, "Headline": pred.Result().Headline(), "HistoryEnabled": true, "ActiveNav": "history"},
		"base.html", "pages/history_detail.html",
	); err != nil {
		s.log(r).Error("render page failed", "error", err)
	}
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	reader, mimeType, err := s.pipeline.OpenPhoto(r.Context(), id)
	if err != nil {
		s.historyError(w, r, err, "open photo")
		return
	}
	defer closeWithLog(reader, "photo reader", s.log(r))

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, reader); err != nil {
		s.log(r).Error("write photo failed", "id", id, "error", err)
	}
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.DeleteHistory(r.Context(), id); err != nil {
		s.historyError(w, r, err, "delete prediction")
		return
	}

	w.Header().Set("HX-Redirect", "/history")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) historyError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrHistoryDisabled):
		http.NotFound(w, r)
	default:
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		s.log(r).Error(op+" failed", "error", err)
	}
}

// statusLabel is the Indonesian label shown for a run's status.
func statusLabel(st domain.PredictionStatus) string {
	switch st {
	case domain.StatusComplete:
		return "Selesai"
	case domain.StatusPartial:
		return "Terpotong"
	case domain.StatusEmpty:
		return "Tidak ada resep"
	case domain.StatusFailed:
		return "Gagal"
	default:
		return "Diproses"
	}
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
