package api

import (
	"net/http"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type createUserResponse struct {
	OK       bool      `json:"ok"`
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

// handleCreateUser creates an account. Owner only.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if !auth.CanCreateUser(p.Role) {
		writeForbidden(w, "only the owner may create users")
		return
	}

	var req createUserRequest
	if !readJSON(w, r, &req) {
		return
	}

	u, err := s.auth.CreateUser(r.Context(), p.Role, p.Username, auth.NewUser{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.audit.Record(audit.Entry{
		Action:     audit.ActionUserCreate,
		EntityType: audit.EntityUser,
		EntityID:   u.Username,
		Actor:      p.Username,
		Source:     audit.SourceAPI,
		Details:    map[string]any{"role": u.Role},
	})
	s.logger.Info("user created", "username", u.Username, "role", u.Role, "by", p.Username)

	writeJSON(w, http.StatusCreated, createUserResponse{
		OK:       true,
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
	})
}
