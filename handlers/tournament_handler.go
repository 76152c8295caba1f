package handlers

import (
	"context"
	"net/http"

	"github.com/pongarena/tournament-engine/middleware"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/services"
)

// TournamentService and MembershipService are the slices of the engine this
// handler needs.
type TournamentService interface {
	Create(ctx context.Context, input services.CreateTournamentInput) (*models.Tournament, error)
	Get(ctx context.Context, id int) (*models.Tournament, error)
	ListJoinable(ctx context.Context) ([]models.Tournament, error)
	PlayerAmount(ctx context.Context, id int) (int, error)
	Bracket(ctx context.Context, id int) (*services.BracketView, error)
	IsParticipant(ctx context.Context, tournamentID, userID int) (bool, error)
}

type MembershipService interface {
	Join(ctx context.Context, tournamentID, userID int) (*services.JoinResult, error)
	Leave(ctx context.Context, tournamentID, userID int) error
	MarkReady(ctx context.Context, tournamentID, userID int) (*services.ReadinessSnapshot, error)
}

type TournamentHandler struct {
	tournaments TournamentService
	members     MembershipService
}

func NewTournamentHandler(ts TournamentService, ms MembershipService) *TournamentHandler {
	return &TournamentHandler{tournaments: ts, members: ms}
}

type createTournamentRequest struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// CreateTournament godoc
// @Summary Create a tournament
// @Tags tournaments
// @Accept json
// @Produce json
// @Param input body createTournamentRequest true "Name and size (4, 8 or 16)"
// @Success 201 {object} models.Tournament
// @Failure 400 {object} map[string]string "Invalid name or size"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 409 {object} map[string]string "Creator already has an active tournament"
// @Security BearerAuth
// @Router /tournaments [post]
func (h *TournamentHandler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input createTournamentRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	t, err := h.tournaments.Create(r.Context(), services.CreateTournamentInput{
		Name:      input.Name,
		Size:      input.Size,
		CreatorID: userID,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, t, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListTournaments godoc
// @Summary List joinable tournaments
// @Tags tournaments
// @Produce json
// @Success 200 {array} models.Tournament
// @Router /tournaments [get]
func (h *TournamentHandler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	list, err := h.tournaments.ListJoinable(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, list, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetTournament godoc
// @Summary Get a tournament
// @Tags tournaments
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} models.Tournament
// @Failure 400 {object} map[string]string "Invalid ID"
// @Failure 404 {object} map[string]string "Tournament not found"
// @Router /tournaments/{tournamentID} [get]
func (h *TournamentHandler) GetTournament(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	t, err := h.tournaments.Get(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, t, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetPlayerAmount godoc
// @Summary Number of live players
// @Tags tournaments
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} map[string]int
// @Failure 404 {object} map[string]string "Tournament not found"
// @Router /tournaments/{tournamentID}/player-amount [get]
func (h *TournamentHandler) GetPlayerAmount(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	n, err := h.tournaments.PlayerAmount(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"playerAmount": n}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetBracket godoc
// @Summary Get the bracket
// @Tags tournaments
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} services.BracketView
// @Failure 404 {object} map[string]string "Tournament not found"
// @Router /tournaments/{tournamentID}/bracket [get]
func (h *TournamentHandler) GetBracket(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	view, err := h.tournaments.Bracket(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, view, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// memberAction extracts the tournament id and the authenticated user.
func memberAction(w http.ResponseWriter, r *http.Request) (tournamentID, userID int, ok bool) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return 0, 0, false
	}
	tournamentID, err = readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, 0, false
	}
	return tournamentID, userID, true
}

// JoinTournament godoc
// @Summary Join a tournament
// @Tags memberships
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} services.JoinResult
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Tournament not found"
// @Failure 409 {object} map[string]string "Already in a tournament / Tournament full or started"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/join [post]
func (h *TournamentHandler) JoinTournament(w http.ResponseWriter, r *http.Request) {
	tournamentID, userID, ok := memberAction(w, r)
	if !ok {
		return
	}
	res, err := h.members.Join(r.Context(), tournamentID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, res, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// LeaveTournament godoc
// @Summary Leave a tournament before it starts
// @Tags memberships
// @Param tournamentID path int true "Tournament ID"
// @Success 204 "Left"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Not a member / Tournament already started"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/leave [post]
func (h *TournamentHandler) LeaveTournament(w http.ResponseWriter, r *http.Request) {
	tournamentID, userID, ok := memberAction(w, r)
	if !ok {
		return
	}
	if err := h.members.Leave(r.Context(), tournamentID, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkReady godoc
// @Summary Ready up for the current round
// @Tags memberships
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} services.ReadinessSnapshot
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Not a member"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/ready [post]
func (h *TournamentHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	tournamentID, userID, ok := memberAction(w, r)
	if !ok {
		return
	}
	snap, err := h.members.MarkReady(r.Context(), tournamentID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, snap, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CheckParticipant godoc
// @Summary Check live participation
// @Tags memberships
// @Description Answers 204 for a live participant of an in-progress tournament and 404 otherwise.
// @Param tournamentID path int true "Tournament ID"
// @Success 204 "Participant"
// @Failure 404 {object} map[string]string "Not a participant"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/participant [get]
func (h *TournamentHandler) CheckParticipant(w http.ResponseWriter, r *http.Request) {
	tournamentID, userID, ok := memberAction(w, r)
	if !ok {
		return
	}
	isParticipant, err := h.tournaments.IsParticipant(r.Context(), tournamentID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if !isParticipant {
		notFoundResponse(w, r, "user is not an active participant of this tournament")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
