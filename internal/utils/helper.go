package utils

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteJSONError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, code, map[string]string{"error": message})
}

// WriteText writes a plain-text body, used for gateway acknowledgements.
func WriteText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// GenerateTradeNo returns a fresh merchant trade number: a random UUID as
// 32 hex digits, the longest reference the gateway accepts.
func GenerateTradeNo() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
