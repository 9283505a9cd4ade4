package handler

import (
	"fmt"
	"net/http"

	"github.com/youtoss/ledger/internal/domain"
)

// GenerateETag generates an ETag for a resource from its ID and version.
// Format: "<resource_type>-<id>-<version>"
func GenerateETag(resourceType, id string, version int64) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, version)
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, resourceType, id string, version int64) {
	w.Header().Set("ETag", GenerateETag(resourceType, id, version))
}

// CheckIfMatch checks if the If-Match header matches the current ETag.
// Returns true if:
//   - No If-Match header is present (ETag checking is optional)
//   - The If-Match header matches the current ETag
//
// Returns false if the If-Match header is present but doesn't match.
func CheckIfMatch(r *http.Request, resourceType, id string, version int64) bool {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		return true
	}
	return ifMatch == "*" || ifMatch == GenerateETag(resourceType, id, version)
}

// RespondPreconditionFailed writes a 412 Precondition Failed response.
func RespondPreconditionFailed(w http.ResponseWriter, resourceType, id string, version int64) {
	respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed,
		"resource has been modified", "", map[string]any{
			"currentETag": GenerateETag(resourceType, id, version),
		})
}

// SetSessionETag sets the ETag of a session.
func SetSessionETag(w http.ResponseWriter, s *domain.Session) {
	SetETagHeader(w, "session", s.ID, s.Version)
}

// CheckSessionIfMatch checks If-Match against a session.
func CheckSessionIfMatch(r *http.Request, s *domain.Session) bool {
	return CheckIfMatch(r, "session", s.ID, s.Version)
}
