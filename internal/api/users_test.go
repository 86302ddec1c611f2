package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/equipwatch-core/internal/audit"
	"github.com/nerrad567/equipwatch-core/internal/auth"
)

func TestUsers_RequireManageUsers(t *testing.T) {
	env := newTestEnv(t)

	for _, username := range []string{"viewer", "tech", "supervisor"} {
		t.Run(username, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/users", env.login(t, username), nil)
			e := assertError(t, w, http.StatusForbidden, ErrCodeForbidden)
			if e.Message != msgInsufficientPermissions {
				t.Errorf("message = %q", e.Message)
			}
		})
	}
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/users", env.login(t, "admin"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Users []map[string]any `json:"users"`
		Count int              `json:"count"`
	}
	decodeJSON(t, w, &resp)
	if resp.Count != 4 || len(resp.Users) != 4 {
		t.Errorf("count = %d (%d users), want 4", resp.Count, len(resp.Users))
	}
	for _, u := range resp.Users {
		for _, secret := range []string{"password_hash", "PasswordHash", "salt", "Salt"} {
			if _, ok := u[secret]; ok {
				t.Errorf("user %v exposes %s", u["username"], secret)
			}
		}
	}
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")

	t.Run("created", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/users", admin, createUserRequest{
			Username: "jsmith",
			Password: "a-long-password",
			Role:     "Technician",
			Email:    "jsmith@plant.example",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var user auth.User
		decodeJSON(t, w, &user)
		if user.Role != auth.RoleTechnician || !user.IsActive || user.CreatedBy != "admin" {
			t.Errorf("user = %+v", user)
		}

		w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "jsmith", Password: "a-long-password"})
		if w.Code != http.StatusOK {
			t.Errorf("new user login status = %d", w.Code)
		}
	})

	t.Run("role defaults to viewer", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/users", admin, createUserRequest{Username: "guest", Password: "a-long-password"})
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var user auth.User
		decodeJSON(t, w, &user)
		if user.Role != auth.RoleViewer {
			t.Errorf("Role = %s, want viewer", user.Role)
		}
	})

	tests := []struct {
		name     string
		req      any
		wantCode int
		wantErr  string
	}{
		{"duplicate", createUserRequest{Username: "viewer", Password: "a-long-password"}, http.StatusConflict, ErrCodeConflict},
		{"invalid role", createUserRequest{Username: "x1", Password: "a-long-password", Role: "owner"}, http.StatusBadRequest, ErrCodeValidation},
		{"short password", createUserRequest{Username: "x2", Password: "short"}, http.StatusBadRequest, ErrCodeValidation},
		{"invalid username", createUserRequest{Username: "bad name!", Password: "a-long-password"}, http.StatusBadRequest, ErrCodeValidation},
		{"missing fields", createUserRequest{Username: "x3"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid json", "{", http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/users", admin, tt.req)
			assertError(t, w, tt.wantCode, tt.wantErr)
		})
	}
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")

	w := env.do(t, http.MethodGet, "/api/v1/users/tech", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var user auth.User
	decodeJSON(t, w, &user)
	if user.Username != "tech" || user.Role != auth.RoleTechnician {
		t.Errorf("user = %+v", user)
	}

	w = env.do(t, http.MethodGet, "/api/v1/users/ghost", admin, nil)
	assertError(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")

	role := "supervisor"
	name := "Terry Tech"
	w := env.do(t, http.MethodPatch, "/api/v1/users/tech", admin, updateUserRequest{Role: &role, FullName: &name})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var user auth.User
	decodeJSON(t, w, &user)
	if user.Role != auth.RoleSupervisor || user.FullName != name {
		t.Errorf("user = %+v", user)
	}

	t.Run("own role", func(t *testing.T) {
		viewerRole := "viewer"
		w := env.do(t, http.MethodPatch, "/api/v1/users/admin", admin, updateUserRequest{Role: &viewerRole})
		assertError(t, w, http.StatusForbidden, ErrCodeForbidden)
	})

	t.Run("own profile", func(t *testing.T) {
		email := "admin@plant.example"
		w := env.do(t, http.MethodPatch, "/api/v1/users/admin", admin, updateUserRequest{Email: &email})
		if w.Code != http.StatusOK {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		bad := "superuser"
		w := env.do(t, http.MethodPatch, "/api/v1/users/tech", admin, updateUserRequest{Role: &bad})
		assertError(t, w, http.StatusBadRequest, ErrCodeValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := env.do(t, http.MethodPatch, "/api/v1/users/ghost", admin, updateUserRequest{FullName: &name})
		assertError(t, w, http.StatusNotFound, ErrCodeNotFound)
	})
}

func TestDeactivateReactivate(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")

	w := env.do(t, http.MethodPost, "/api/v1/users/tech/deactivate", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d, body = %s", w.Code, w.Body.String())
	}
	var user auth.User
	decodeJSON(t, w, &user)
	if user.IsActive {
		t.Error("user still active after deactivate")
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "tech", Password: testPassword})
	assertError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

	w = env.do(t, http.MethodPost, "/api/v1/users/tech/reactivate", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reactivate status = %d", w.Code)
	}
	env.login(t, "tech")

	t.Run("self", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/users/admin/deactivate", admin, nil)
		assertError(t, w, http.StatusForbidden, ErrCodeForbidden)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/users/ghost/deactivate", admin, nil)
		assertError(t, w, http.StatusNotFound, ErrCodeNotFound)
	})

	actions := map[audit.Action]int{}
	for _, e := range env.auditRepoEntries(t) {
		if e.Actor == "admin" {
			actions[e.Action]++
		}
	}
	if actions[audit.ActionUserDeactivated] != 1 || actions[audit.ActionUserReactivated] != 1 {
		t.Errorf("audited admin actions = %v", actions)
	}
}

func TestDeactivateKeepsSessionsByDefault(t *testing.T) {
	env := newTestEnv(t)
	techToken := env.login(t, "tech")

	w := env.do(t, http.MethodPost, "/api/v1/users/tech/deactivate", env.login(t, "admin"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d", w.Code)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/auth/me", techToken, nil); w.Code != http.StatusOK {
		t.Errorf("existing session status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestUserSessions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")
	first := env.login(t, "viewer")
	env.login(t, "viewer")

	w := env.do(t, http.MethodGet, "/api/v1/users/viewer/sessions", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Sessions []auth.Session `json:"sessions"`
		Count    int            `json:"count"`
	}
	decodeJSON(t, w, &list)
	if list.Count != 2 {
		t.Errorf("sessions = %d, want 2", list.Count)
	}
	for _, s := range list.Sessions {
		if s.Token != "" {
			t.Error("session listing exposes a token")
		}
	}

	w = env.do(t, http.MethodDelete, "/api/v1/users/viewer/sessions", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", w.Code)
	}
	var revoked map[string]int
	decodeJSON(t, w, &revoked)
	if revoked["revoked"] != 2 {
		t.Errorf("revoked = %d, want 2", revoked["revoked"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/auth/me", first, nil)
	assertError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

	w = env.do(t, http.MethodGet, "/api/v1/users/ghost/sessions", admin, nil)
	assertError(t, w, http.StatusNotFound, ErrCodeNotFound)
}
