package api

import (
	"context"
	"net/http"
	"strings"
)

// =============================================================================
// ACTOR - Who is calling
// =============================================================================
//
// Authentication happens upstream (gateway or session layer). It forwards
// the caller as two headers:
//
//   X-User-ID:   opaque id; for students, the StudentID
//   X-User-Role: "staff" or "student"
//
// Staff may act on any obligation. Students only ever see their own records;
// someone else's obligation is reported as not found, not forbidden, so ids
// cannot be probed.

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type Role string

const (
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// CanSee reports whether the actor may read a record owned by studentID.
func (a Actor) CanSee(studentID string) bool {
	return a.IsStaff() || a.ID == studentID
}

type actorKey struct{}

// ActorFrom returns the actor set by Identify.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// WithActor stores an actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// Identify reads the actor headers. Requests without a valid actor get 401.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if id == "" || (role != RoleStaff && role != RoleStudent) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "Missing or invalid caller identity",
				Code:  "unauthenticated",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), Actor{ID: id, Role: role})))
	})
}

// RequireRole rejects actors without the given role with 403.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok || actor.Role != role {
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error: "This operation requires the " + string(role) + " role",
					Code:  "forbidden",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
