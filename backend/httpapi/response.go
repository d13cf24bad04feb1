package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
)

// Result is the envelope used by the admin/auth endpoints.
type Result[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

func OK[T any](w http.ResponseWriter, data T) {
	WriteJSON(w, http.StatusOK, Result[T]{
		Code:    0,
		Message: "Success",
		Data:    data,
	})
}

func OKMessage(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusOK, Result[any]{
		Code:    0,
		Message: message,
	})
}

func Error(w http.ResponseWriter, code int, message string, status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	WriteJSON(w, status, Result[any]{
		Code:    code,
		Message: message,
	})
}

// WriteJSON writes an arbitrary payload; the player-facing danmaku endpoints
// use plain shapes instead of the Result envelope.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[httpapi] writeJSON encode error: %v", err)
	}
}
