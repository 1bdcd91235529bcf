/*

This file exposes the instruction surface over HTTP for external callers and
serves read endpoints for off-chain observers. Signature verification is the
host's concern; callers identify themselves by address in the path or body.

*/

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridianfi/reallocator/internal/engine"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/logger"
	"github.com/meridianfi/reallocator/internal/protocol"
	"github.com/meridianfi/reallocator/internal/state"
	"github.com/meridianfi/reallocator/internal/types"
	"github.com/meridianfi/reallocator/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for the instruction API and event views.
type WebServer struct {
	router *mux.Router
	port   string
	engine *engine.Engine

	// withDB enables the Postgres-backed read endpoints.
	withDB bool
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, eng *engine.Engine, withDB bool) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		engine: eng,
		withDB: withDB,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes.
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/protocol/initialize", ws.handleInitializeProtocol).Methods("POST")
	api.HandleFunc("/users/{owner}/initialize", ws.handleInitializeUser).Methods("POST")
	api.HandleFunc("/users/{owner}/positions", ws.handleCreatePosition).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/users/{owner}/positions/{id}/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/pause", ws.handlePause).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/resume", ws.handleResume).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/close", ws.handleClosePosition).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/rebalance", ws.handleRebalance).Methods("POST")
	api.HandleFunc("/users/{owner}/positions/{id}/status", ws.handleStatus).Methods("GET")
	api.HandleFunc("/users/{owner}/positions/{id}/history", ws.handleHistory).Methods("GET")
	api.HandleFunc("/rebalance/batch", ws.handleRebalanceBatch).Methods("POST")
	api.HandleFunc("/events", ws.handleEvents).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var total uint64
	err := ws.engine.Registry().View(func(tx ledger.Tx) error {
		if authority, ok := tx.Protocol(); ok {
			total = authority.TotalPositions
		}
		return nil
	})

	status := "OK"
	code := http.StatusOK
	if err != nil {
		status = "DEGRADED"
		code = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, code, map[string]interface{}{
		"status":          status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"total_positions": total,
		"db_enabled":      ws.withDB,
	})
}

type initializeProtocolRequest struct {
	FeeRecipient string `json:"fee_recipient"`
	Keeper       string `json:"keeper"`
	FeeBps       uint16 `json:"fee_bps"`
}

func (ws *WebServer) handleInitializeProtocol(w http.ResponseWriter, r *http.Request) {
	var req initializeProtocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	feeRecipient, err := types.ParseAddress(req.FeeRecipient)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid fee_recipient address")
		return
	}
	keeper, err := types.ParseAddress(req.Keeper)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid keeper address")
		return
	}

	if err := ws.engine.InitializeProtocol(r.Context(), feeRecipient, keeper, req.FeeBps); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"initialized": true})
}

func (ws *WebServer) handleInitializeUser(w http.ResponseWriter, r *http.Request) {
	owner, ok := ws.ownerFromPath(w, r)
	if !ok {
		return
	}
	if err := ws.engine.InitializeUser(r.Context(), owner); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"initialized": true})
}

type createPositionRequest struct {
	PositionID uint64 `json:"position_id"`
	TokenAMint string `json:"token_a_mint"`
	TokenBMint string `json:"token_b_mint"`
	RangeMin   uint64 `json:"range_min"`
	RangeMax   uint64 `json:"range_max"`
}

func (ws *WebServer) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := ws.ownerFromPath(w, r)
	if !ok {
		return
	}

	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mintA, err := types.ParseAddress(req.TokenAMint)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid token_a_mint address")
		return
	}
	mintB, err := types.ParseAddress(req.TokenBMint)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid token_b_mint address")
		return
	}

	if err := ws.engine.CreatePosition(r.Context(), owner, req.PositionID, mintA, mintB, req.RangeMin, req.RangeMax); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": req.PositionID})
}

type depositRequest struct {
	AmountA uint64 `json:"amount_a"`
	AmountB uint64 `json:"amount_b"`
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event, err := ws.engine.Deposit(r.Context(), owner, positionID, req.AmountA, req.AmountB)
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, event)
}

type withdrawRequest struct {
	Percentage uint8 `json:"percentage"`
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event, err := ws.engine.Withdraw(r.Context(), owner, positionID, req.Percentage)
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, event)
}

func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}
	if err := ws.engine.Pause(r.Context(), owner, positionID); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": true})
}

func (ws *WebServer) handleResume(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}
	if err := ws.engine.Resume(r.Context(), owner, positionID); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": false})
}

func (ws *WebServer) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}
	if err := ws.engine.ClosePosition(r.Context(), owner, positionID); err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"closed": true})
}

func (ws *WebServer) handleRebalance(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}
	action, err := ws.engine.RebalancePosition(r.Context(), owner, positionID)
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"action": action})
}

type positionResponse struct {
	PositionID      uint64  `json:"position_id"`
	Owner           string  `json:"owner"`
	TokenAMint      string  `json:"token_a_mint"`
	TokenBMint      string  `json:"token_b_mint"`
	TokenAIdle      uint64  `json:"token_a_idle"`
	TokenBIdle      uint64  `json:"token_b_idle"`
	TokenAInLP      uint64  `json:"token_a_in_lp"`
	TokenBInLP      uint64  `json:"token_b_in_lp"`
	TokenAInLending uint64  `json:"token_a_in_lending"`
	TokenBInLending uint64  `json:"token_b_in_lending"`
	RangeMinDisplay float64 `json:"range_min_display"`
	RangeMaxDisplay float64 `json:"range_max_display"`
	Paused          bool    `json:"paused"`
	TotalRebalances uint64  `json:"total_rebalances"`
	CreatedAt       string  `json:"created_at"`
}

func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}

	var pos types.Position
	err := ws.engine.Registry().View(func(tx ledger.Tx) error {
		p, found := tx.Position(owner, positionID)
		if !found {
			return protocol.ErrInvalidPositionID
		}
		pos = p
		return nil
	})
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}

	rangeMin, err := utils.RawToDisplay(pos.LPRangeMin, int(protocol.PriceDecimals))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to convert range bound")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "conversion failed")
		return
	}
	rangeMax, err := utils.RawToDisplay(pos.LPRangeMax, int(protocol.PriceDecimals))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to convert range bound")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "conversion failed")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, positionResponse{
		PositionID:      pos.PositionID,
		Owner:           pos.Owner.String(),
		TokenAMint:      pos.TokenAMint.String(),
		TokenBMint:      pos.TokenBMint.String(),
		TokenAIdle:      pos.TokenAIdle,
		TokenBIdle:      pos.TokenBIdle,
		TokenAInLP:      pos.TokenAInLP,
		TokenBInLP:      pos.TokenBInLP,
		TokenAInLending: pos.TokenAInLending,
		TokenBInLending: pos.TokenBInLending,
		RangeMinDisplay: rangeMin,
		RangeMaxDisplay: rangeMax,
		Paused:          pos.PauseFlag,
		TotalRebalances: pos.TotalRebalances,
		CreatedAt:       time.Unix(pos.CreatedAt, 0).UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}
	status, err := ws.engine.CheckPositionStatus(r.Context(), owner, positionID)
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, status)
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !ws.withDB {
		ws.writeErrorResponse(w, http.StatusNotImplemented, "event persistence is not enabled")
		return
	}
	owner, positionID, ok := ws.positionFromPath(w, r)
	if !ok {
		return
	}

	records, err := state.RebalanceHistory(owner.String(), positionID, queryLimit(r, 100))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to query rebalance history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, records)
}

type batchRequest struct {
	Keeper    string `json:"keeper"`
	Positions []struct {
		Owner      string `json:"owner"`
		PositionID uint64 `json:"position_id"`
	} `json:"positions"`
}

func (ws *WebServer) handleRebalanceBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := types.ParseAddress(req.Keeper)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid keeper address")
		return
	}

	refs := make([]engine.PositionRef, 0, len(req.Positions))
	for _, p := range req.Positions {
		owner, err := types.ParseAddress(p.Owner)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "invalid owner address in batch")
			return
		}
		refs = append(refs, engine.PositionRef{Owner: owner, PositionID: p.PositionID})
	}

	results, err := ws.engine.RebalanceBatch(r.Context(), caller, refs)
	if err != nil {
		ws.writeInstructionError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(results))
	for _, result := range results {
		entry := map[string]interface{}{
			"owner":       result.Ref.Owner.String(),
			"position_id": result.Ref.PositionID,
			"action":      result.Action,
		}
		if result.Err != nil {
			entry["error"] = result.Err.Error()
		}
		out = append(out, entry)
	}
	ws.writeJSONResponse(w, http.StatusOK, out)
}

func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !ws.withDB {
		ws.writeErrorResponse(w, http.StatusNotImplemented, "event persistence is not enabled")
		return
	}

	events, err := state.RecentEvents(queryLimit(r, 50))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to query events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to retrieve events")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, events)
}

func (ws *WebServer) ownerFromPath(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	owner, err := types.ParseAddress(mux.Vars(r)["owner"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid owner address")
		return types.Address{}, false
	}
	return owner, true
}

func (ws *WebServer) positionFromPath(w http.ResponseWriter, r *http.Request) (types.Address, uint64, bool) {
	owner, ok := ws.ownerFromPath(w, r)
	if !ok {
		return types.Address{}, 0, false
	}
	positionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid position id")
		return types.Address{}, 0, false
	}
	return owner, positionID, true
}

func queryLimit(r *http.Request, fallback int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 1000 {
			return parsed
		}
	}
	return fallback
}

// writeInstructionError maps the protocol error taxonomy to HTTP status
// codes.
func (ws *WebServer) writeInstructionError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrInvalidPriceRange),
		errors.Is(err, protocol.ErrInvalidPositionID),
		errors.Is(err, protocol.ErrInvalidPercentage),
		errors.Is(err, protocol.ErrBatchTooLarge):
		code = http.StatusBadRequest
	case errors.Is(err, protocol.ErrPositionAlreadyExists),
		errors.Is(err, protocol.ErrPositionNotEmpty),
		errors.Is(err, protocol.ErrPositionPaused):
		code = http.StatusConflict
	case errors.Is(err, protocol.ErrUnauthorizedKeeper):
		code = http.StatusForbidden
	case errors.Is(err, protocol.ErrStalePriceData):
		code = http.StatusServiceUnavailable
	}
	ws.writeErrorResponse(w, code, err.Error())
}

// writeJSONResponse writes a JSON response.
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response.
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// corsMiddleware adds CORS headers.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
