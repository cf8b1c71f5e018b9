package api

import (
	"encoding/json"
	"net/http"

	"CommissionEngine/api/constants"
	"CommissionEngine/internal/logger"
)

// RespondWithError sends {"success": false, "error": errMsg}.
func RespondWithError(w http.ResponseWriter, status int, errMsg string) {
	logger.Get().Warn().Int("status", status).Str("error", errMsg).Msg("request rejected")
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errMsg,
	})
}

// RespondWithPayload sends {"success": true} plus the payload fields.
func RespondWithPayload(w http.ResponseWriter, payload map[string]interface{}) {
	resp := map[string]interface{}{"success": true}
	for k, v := range payload {
		resp[k] = v
	}
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	json.NewEncoder(w).Encode(resp)
}

// respondRaw writes an already serialized JSON document.
func respondRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	w.Write(body)
}
