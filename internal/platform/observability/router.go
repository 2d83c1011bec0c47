package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ogurasousui/codex-userstore/internal/core/user"
)

// HealthChecker は依存先の疎通確認を行います。
type HealthChecker func(ctx context.Context) error

// NewRouter は /healthz と /metrics を提供する運用向けルーターを構築します。
// users が指定された場合は読み取り専用の /admin/users も公開します。
func NewRouter(metrics *Metrics, check HealthChecker, users user.UseCase) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if users != nil {
		h := adminHandler{users: users}
		r.Route("/admin/users", func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/{id}", h.get)
		})
	}

	return r
}

type adminHandler struct {
	users user.UseCase
}

type userView struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Note     *string `json:"note"`
	IsActive bool    `json:"is_active"`
}

type listView struct {
	Users         []userView `json:"users"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

func toView(u *user.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Note: u.Note, IsActive: u.IsActive}
}

func (h adminHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, user.ErrInvalidID)
		return
	}
	found, err := h.users.GetUser(r.Context(), user.GetUserInput{ID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(found))
}

func (h adminHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := user.ListUsersPageInput{
		PageToken:  q.Get("page_token"),
		ActiveOnly: q.Get("active_only") == "true",
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, user.ErrInvalidPageSize)
			return
		}
		in.PageSize = size
	}

	result, err := h.users.ListUsersPage(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	view := listView{Users: make([]userView, 0, len(result.Users)), NextPageToken: result.NextPageToken}
	for _, u := range result.Users {
		view.Users = append(view.Users, toView(u))
	}
	writeJSON(w, http.StatusOK, view)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, user.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, user.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
