package transport

import (
	"net/http"

	"github.com/adred-codev/collabhub/internal/access"
)

// methodToAction maps an HTTP verb to the Action it requires:
// GET/HEAD -> Read, PUT/POST/PATCH -> Write, DELETE -> Delete.
func methodToAction(method string) (access.Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return access.Read, true
	case http.MethodPut, http.MethodPost, http.MethodPatch:
		return access.Write, true
	case http.MethodDelete:
		return access.Delete, true
	default:
		return 0, false
	}
}

// AccessMiddleware inspects every inbound request's matched route
// pattern for the `workspace_id` and `object_id` path parameters and
// consults the Access Control Model before forwarding. Requests whose
// route carries neither parameter bypass access control entirely —
// they're the thin REST/health/metrics routes with nothing to check
// permissions against.
type AccessMiddleware struct {
	uids  *UIDCache
	model *access.Holder
}

// NewAccessMiddleware builds the middleware from a uid resolver and the
// shared Access Control Model.
func NewAccessMiddleware(uids *UIDCache, model *access.Holder) *AccessMiddleware {
	return &AccessMiddleware{uids: uids, model: model}
}

// Wrap returns next guarded by the access check described above.
func (m *AccessMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID := r.PathValue("workspace_id")
		objectID := r.PathValue("object_id")
		if workspaceID == "" && objectID == "" {
			next.ServeHTTP(w, r)
			return
		}

		action, ok := methodToAction(r.Method)
		if !ok {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		uid, err := m.uids.Resolve(r)
		if err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		if workspaceID != "" {
			if !m.model.Check(uid, access.Workspace(workspaceID), action) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		if objectID != "" {
			if !m.model.Check(uid, access.Collab(objectID), action) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
