package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
	"github.com/conclave-mtg/conclave-api/internal/conclave/auth"
	"github.com/conclave-mtg/conclave-api/internal/conclave/hub"
	"github.com/conclave-mtg/conclave-api/internal/conclave/models"
	"github.com/conclave-mtg/conclave-api/internal/conclave/service"
	"github.com/conclave-mtg/conclave-api/internal/conclave/ws"
)

type Handler struct {
	svc      *service.GameService
	resolver *auth.Resolver
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func NewHandler(svc *service.GameService, resolver *auth.Resolver, h *hub.Hub) *Handler {
	return &Handler{
		svc:      svc,
		resolver: resolver,
		hub:      h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindCapacity:
		return http.StatusConflict
	case apperr.KindInvalid, apperr.KindNotActive:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Errorf("internal error: %v", err)
	}
	h.CreateResponse(w, Response{
		Code:  statusForKind(kind),
		Error: apperr.PublicMessage(err),
	})
}

func (h *Handler) writeData(w http.ResponseWriter, code int, data interface{}) {
	h.CreateResponse(w, Response{Code: code, Data: data})
}

func (h *Handler) userID(r *http.Request) (string, error) {
	return h.resolver.UserFromContext(r.Context())
}

func gameIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid game id")
	}
	return id, nil
}

func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req models.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	game, err := h.svc.CreateGame(r.Context(), req.Name, req.StartingLife, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, game)
}

func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	game, err := h.svc.GetGame(r.Context(), gameID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, game)
}

func (h *Handler) GetGameState(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	state, err := h.svc.GetGameState(r.Context(), gameID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, state)
}

func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	player, err := h.svc.JoinGame(r.Context(), gameID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, player)
}

func (h *Handler) LeaveGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.LeaveGame(r.Context(), gameID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, nil)
}

func (h *Handler) UpdateLife(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req models.UpdateLifeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	player, err := h.svc.UpdateLife(r.Context(), gameID, req.PlayerID, req.ChangeAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, player)
}

func (h *Handler) UpdateCommanderDamage(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req models.UpdateCommanderDamageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	entry, err := h.svc.UpdateCommanderDamage(r.Context(), gameID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, entry)
}

func (h *Handler) TogglePartner(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeError(w, apperr.Invalid("invalid player id"))
		return
	}
	var req models.TogglePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	if req.PlayerID != playerID {
		h.writeError(w, apperr.Invalid("player id in path does not match request"))
		return
	}
	if err := h.svc.TogglePartner(r.Context(), gameID, playerID, req.EnablePartner); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, nil)
}

func (h *Handler) EndGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req models.EndGameRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, apperr.Invalid("invalid request body"))
			return
		}
	}
	game, err := h.svc.EndGame(r.Context(), gameID, req.WinnerPlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, game)
}

func (h *Handler) GetLifeChanges(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	changes, err := h.svc.GetRecentLifeChanges(r.Context(), gameID, 50)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, changes)
}

func (h *Handler) ListAvailableGames(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	games, err := h.svc.ListAvailableGames(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, games)
}

func (h *Handler) ListUserGames(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	games, err := h.svc.ListUserGames(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, games)
}

func (h *Handler) ListAllGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.svc.ListAllGames(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, games)
}

func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	history, err := h.svc.ListUserHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, history)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.CountActiveGames(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"activeGames": count})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "conclave api is running",
		Code:    http.StatusOK,
	})
}

// HandleWebSocket attaches a streaming session. The game id and bearer token
// arrive as query params since browsers cannot set headers on upgrades.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.URL.Query().Get("gameId"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	userID, err := h.resolver.UserFromToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, apperr.PublicMessage(err), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	log.Infof("websocket connected: user %s, game %s", userID, gameID)
	session := ws.NewSession(gameID, userID, conn, h.svc, h.hub)
	go session.Run(context.Background())
}
