// Package api is the HTTP surface of the gateway: webhook intake, the live
// update stream, admin session management and the fulfillment partner
// endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Webhook endpoints answer plain text: the marketplace relays only look at
// the status code and retry on non-2xx, and operators read the bodies in the
// relay logs.

func textOK(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func textFail(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(body))
}

// Admin and partner endpoints answer a {code, msg, data} envelope; the
// HTTP status mirrors the envelope code.

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error("write response failed", "error", err)
	}
}

func jsonOK(w http.ResponseWriter, data any, log *slog.Logger) {
	writeJSON(w, http.StatusOK, envelope{Code: 200, Msg: "ok", Data: data}, log)
}

func jsonFail(w http.ResponseWriter, status int, msg string, log *slog.Logger) {
	writeJSON(w, status, envelope{Code: status, Msg: msg}, log)
}
