package httpadapter

import (
	"net/http"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

type registerUserRequest struct {
	Name     string `json:"name"`
	CPF      string `json:"cpf"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	CPF      string `json:"cpf"`
	Password string `json:"password"`
}

func (rt *Router) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := rt.users.Register(r.Context(), req.Name, req.CPF, req.Password, domain.Role(req.Role))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (rt *Router) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := rt.users.List(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (rt *Router) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := rt.users.Login(r.Context(), req.CPF, req.Password)
	if rt.metrics != nil {
		rt.metrics.RecordLogin(serviceName, err == nil)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
