package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/callstore"
	"github.com/ClareAI/astra-telephony-gateway/internal/services/call"
	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"github.com/ClareAI/astra-telephony-gateway/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ActiveCall is one entry of the active call listing
type ActiveCall struct {
	CallSid   string    `json:"callSid"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	StartTime time.Time `json:"startTime"`
	State     string    `json:"state"`
}

// ActiveCallsResponse is the body of GET /calls
type ActiveCallsResponse struct {
	Calls []ActiveCall `json:"calls"`
	Count int          `json:"count"`
}

// CallsHandler handles the call inspection and admin requests
type CallsHandler struct {
	service CallService
}

// NewCallsHandler creates a new calls handler
func NewCallsHandler(service CallService) *CallsHandler {
	return &CallsHandler{service: service}
}

// SetupCallRoutes registers the routes on a router mounted at /calls
func (h *CallsHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListActiveCalls).Methods(http.MethodGet)
	router.HandleFunc("/{callSid}", h.GetCall).Methods(http.MethodGet)
	router.HandleFunc("/{callSid}", h.HangupCall).Methods(http.MethodDelete)
}

// ListActiveCalls godoc
// @Summary List active calls
// @Description Snapshot of the calls currently in progress on this instance
// @Tags calls
// @Produce json
// @Success 200 {object} ActiveCallsResponse
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /calls [get]
func (h *CallsHandler) ListActiveCalls(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListActive(r.Context())
	if err != nil {
		logger.Base().Error("failed to list active calls", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	resp := ActiveCallsResponse{Calls: make([]ActiveCall, 0, len(records))}
	for _, rec := range records {
		resp.Calls = append(resp.Calls, ActiveCall{
			CallSid:   rec.CallSid,
			From:      rec.From,
			To:        rec.To,
			StartTime: rec.CreatedAt,
			State:     rec.State.String(),
		})
	}
	resp.Count = len(resp.Calls)
	writeJSON(w, http.StatusOK, resp)
}

// GetCall godoc
// @Summary Get a call
// @Description Full record of an active or recently ended call
// @Tags calls
// @Produce json
// @Param callSid path string true "Call SID"
// @Success 200 {object} domain.CallRecord
// @Failure 404 {object} map[string]string "Call not found"
// @Router /calls/{callSid} [get]
func (h *CallsHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callSid := mux.Vars(r)["callSid"]

	rec, ok, err := h.service.GetCall(r.Context(), callSid)
	if err != nil {
		logger.Base().Error("failed to load call", zap.String("call_sid", callSid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HangupCall godoc
// @Summary Hang up a call
// @Description Ends the call at the provider, when call control is configured, and locally
// @Tags calls
// @Produce json
// @Param callSid path string true "Call SID"
// @Success 200 {object} domain.CallRecord
// @Success 202 {object} map[string]string "Forwarded to the instance holding the call"
// @Failure 404 {object} map[string]string "Call not found"
// @Failure 502 {object} map[string]string "Provider rejected the hang-up"
// @Router /calls/{callSid} [delete]
func (h *CallsHandler) HangupCall(w http.ResponseWriter, r *http.Request) {
	callSid := mux.Vars(r)["callSid"]

	rec, err := h.service.Hangup(r.Context(), callSid)
	switch {
	case err == nil:
		logger.Base().Info("call hung up by operator", zap.String("call_sid", callSid))
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, call.ErrHangupForwarded):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "forwarded", "callSid": callSid})
	case errors.Is(err, callstore.ErrCallNotFound):
		writeError(w, http.StatusNotFound, "call not found")
	case errors.Is(err, twilio.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "call control is not configured")
	default:
		logger.Base().Error("failed to hang up call", zap.String("call_sid", callSid), zap.Error(err))
		writeError(w, http.StatusBadGateway, "provider rejected the hang-up")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
