package api

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/socket"
)

// ========== Auth handlers ==========

// HandleToken exchanges the shared API secret for a token pair.
func (s *RESTServer) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.config.JWT.Secret)) != 1 {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(uuid.New(), req.Name)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Diagnostics handlers ==========

// HandleHealth reports liveness.
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"node":   s.config.Node.Name,
	})
}

// HandleStatus reports the radio state machine and counters.
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"node":           s.config.Node.Name,
		"pending_events": int(s.dev.Registry().Pending()),
	}

	if s.dev.Family() == socket.FamilySigfox {
		resp["family"] = "sigfox"
		uplink, downlink := s.dev.Sigfox().Frequencies()
		resp["sigfox_id"] = hexBytes(s.dev.Stats().SigfoxID())
		resp["uplink_frequency"] = uplink
		resp["downlink_frequency"] = downlink
	} else {
		eng := s.dev.Session()
		up, down := eng.FrameCounters()
		resp["family"] = "lora"
		resp["dev_eui"] = s.dev.Stats().MAC().String()
		resp["state"] = eng.State().String()
		resp["has_joined"] = eng.HasJoined()
		resp["dev_addr"] = eng.DevAddr().String()
		resp["fcnt_up"] = up
		resp["fcnt_down"] = down
		resp["battery"] = eng.BatteryLevel()
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleStats reports the last-packet telemetry snapshot.
func (s *RESTServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.dev.Stats().Stats())
}

// HandleConfig reports the current radio parameters.
func (s *RESTServer) HandleConfig(w http.ResponseWriter, r *http.Request) {
	p := s.dev.Config().Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":             int(p.Mode),
		"frequency":        p.Frequency,
		"tx_power":         p.TXPower,
		"bandwidth":        int(p.Bandwidth),
		"spreading_factor": p.SpreadingFactor,
		"coding_rate":      int(p.CodingRate),
		"preamble":         p.PreambleSymbols,
		"power_mode":       int(p.PowerMode),
		"adr":              p.ADR,
		"public_sync":      p.PublicSync,
		"tx_retries":       p.TXRetries,
		"device_class":     int(p.DeviceClass),
		"data_rate":        p.DataRate,
	})
}

// HandleChannels lists the channel plan.
func (s *RESTServer) HandleChannels(w http.ResponseWriter, r *http.Request) {
	plan := s.dev.Plan()
	if plan == nil {
		s.respondError(w, http.StatusNotFound, "no channel plan for this radio family")
		return
	}
	s.respondJSON(w, http.StatusOK, plan.List())
}

// ========== Helpers ==========

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("encode API response")
	}
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func hexBytes(b [4]byte) string {
	return hex.EncodeToString(b[:])
}
