package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

// handleListAudit returns paginated audit entries, newest first.
//
// Query parameters:
//   - actor: filter by username (or "unknown")
//   - action: filter by action (login_failure, user_created, ...)
//   - since, until: RFC 3339 bounds, since inclusive and until exclusive
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Actor:  q.Get("actor"),
		Action: audit.Action(q.Get("action")),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeBadRequest(w, "since must be an RFC 3339 timestamp")
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeBadRequest(w, "until must be an RFC 3339 timestamp")
		return
	}
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseTimeParam parses an optional RFC 3339 query value.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// parseIntParam parses an optional integer query value.
func parseIntParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
