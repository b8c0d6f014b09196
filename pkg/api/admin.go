package api

import (
	"encoding/json"
	"net/http"

	"github.com/luoliAsyns/Gateway/pkg/auth"
)

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10)).Decode(dst)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		jsonFail(w, http.StatusBadRequest, "username and password required", s.log)
		return
	}

	ok, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.Error("login check failed", "username", req.Username, "error", err)
		jsonFail(w, http.StatusInternalServerError, "login unavailable", s.log)
		return
	}
	if !ok {
		jsonFail(w, http.StatusBadRequest, "bad credentials", s.log)
		return
	}

	token, err := s.auth.Issue(req.Username)
	if err != nil {
		s.log.Error("token issue failed", "username", req.Username, "error", err)
		jsonFail(w, http.StatusInternalServerError, "login unavailable", s.log)
		return
	}
	if err := s.sessions.Put(r.Context(), req.Username, token, s.auth.TTL()); err != nil {
		s.log.Error("session store failed", "username", req.Username, "error", err)
		jsonFail(w, http.StatusInternalServerError, "login unavailable", s.log)
		return
	}

	s.log.Info("admin login", "username", req.Username)
	jsonOK(w, token, s.log)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := usernameFrom(r.Context())
	if err := s.sessions.Delete(r.Context(), user); err != nil {
		s.log.Error("session delete failed", "username", user, "error", err)
		jsonFail(w, http.StatusInternalServerError, "logout failed", s.log)
		return
	}
	jsonOK(w, nil, s.log)
}

// handleChangePassword lets a user change their own password; root may
// change anyone's. The target's session is revoked either way.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Password == "" {
		jsonFail(w, http.StatusBadRequest, "username and password required", s.log)
		return
	}

	actor := usernameFrom(r.Context())
	if req.Username == "" {
		req.Username = actor
	}
	if actor != req.Username && actor != auth.RootUser {
		jsonFail(w, http.StatusForbidden, "not allowed", s.log)
		return
	}

	if err := s.users.ChangePassword(r.Context(), req.Username, req.Password); err != nil {
		s.log.Error("change password failed", "username", req.Username, "error", err)
		jsonFail(w, http.StatusInternalServerError, "change password failed", s.log)
		return
	}
	if err := s.sessions.Delete(r.Context(), req.Username); err != nil {
		s.log.Error("session revoke failed", "username", req.Username, "error", err)
	}

	s.log.Info("password changed", "username", req.Username, "by", actor)
	jsonOK(w, nil, s.log)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if usernameFrom(r.Context()) != auth.RootUser {
		jsonFail(w, http.StatusForbidden, "not allowed", s.log)
		return
	}

	var req struct {
		Username string `json:"username"`
		Phone    string `json:"phone"`
		Gender   int    `json:"gender"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		jsonFail(w, http.StatusBadRequest, "username required", s.log)
		return
	}

	initial, err := s.users.Register(r.Context(), req.Username, req.Phone, req.Gender)
	if err != nil {
		s.log.Error("register failed", "username", req.Username, "error", err)
		jsonFail(w, http.StatusInternalServerError, "register failed", s.log)
		return
	}

	s.log.Info("admin registered", "username", req.Username)
	jsonOK(w, initial, s.log)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	dump, err := s.dumper.Dump(r.Context())
	if err != nil {
		s.log.Error("counter dump failed", "error", err)
		jsonFail(w, http.StatusInternalServerError, "counter dump failed", s.log)
		return
	}
	textOK(w, dump)
}
