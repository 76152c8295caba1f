package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/services"
)

type MatchService interface {
	Resolve(ctx context.Context, tournamentID int, input services.ResultInput) (*services.ResolveResult, error)
	MatchHistory(ctx context.Context, userID int, limit int) ([]models.MatchRecord, error)
}

type MatchHandler struct {
	matches MatchService
}

func NewMatchHandler(ms MatchService) *MatchHandler {
	return &MatchHandler{matches: ms}
}

// ReportResult godoc
// @Summary Report a finished match
// @Tags matches
// @Description Called by the gameplay service when a match ends.
// @Accept json
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Param input body services.ResultInput true "Winner, loser and scores"
// @Success 200 {object} services.ResolveResult
// @Failure 400 {object} map[string]string "Invalid result"
// @Failure 404 {object} map[string]string "Tournament not found"
// @Failure 409 {object} map[string]string "No active match / Match already completed"
// @Router /internal/tournaments/{tournamentID}/results [post]
func (h *MatchHandler) ReportResult(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.ResultInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	res, err := h.matches.Resolve(r.Context(), tournamentID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, res, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetMatchHistory godoc
// @Summary Match history of a user
// @Tags matches
// @Produce json
// @Param userID path int true "User ID"
// @Param limit query int false "At most this many records (0-500)"
// @Success 200 {array} models.MatchRecord
// @Failure 400 {object} map[string]string "Invalid ID or limit"
// @Router /users/{userID}/match-history [get]
func (h *MatchHandler) GetMatchHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := readIDParam(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > 500 {
			errorResponse(w, r, http.StatusBadRequest, "limit must be between 0 and 500")
			return
		}
	}

	records, err := h.matches.MatchHistory(r.Context(), userID, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, records, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
