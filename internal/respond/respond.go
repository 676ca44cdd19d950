// Package respond writes the JSON envelopes shared by the HTTP surfaces:
// {success, data, message} on success and
// {success:false, error, message, timestamp, ...} on failure.
package respond

import (
	"encoding/json"
	"net/http"
	"time"
)

// Now is the clock used for error timestamps.
var Now = time.Now

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes {success:true, message?, data?}.
func OK(w http.ResponseWriter, status int, message string, data any) {
	body := map[string]any{"success": true}
	if message != "" {
		body["message"] = message
	}
	if data != nil {
		body["data"] = data
	}
	JSON(w, status, body)
}

// Error writes the failure envelope. Fields in extra are merged into the body
// and can not override the standard keys.
func Error(w http.ResponseWriter, status int, kind, message string, extra map[string]any) {
	body := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		body[k] = v
	}
	body["success"] = false
	body["error"] = kind
	body["message"] = message
	body["timestamp"] = Now().UTC().Format(time.RFC3339)
	JSON(w, status, body)
}
