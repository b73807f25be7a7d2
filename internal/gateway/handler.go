package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"vitalsync/internal/auth"
	"vitalsync/internal/vital"
)

// maxSampleBytes is a generous per-sample allowance used to bound the
// request body from the batch limit.
const maxSampleBytes = 64 * 1024

type SyncHandler struct {
	Ingestor     *Ingestor
	MaxBatchSize int
}

// Sync handles POST /sync. The body is a JSON array of samples.
func (h *SyncHandler) Sync(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, vital.CodeUnauthenticated, "missing principal")
		return
	}

	limit := int64(h.MaxBatchSize) * maxSampleBytes
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, vital.CodeBatchTooLarge, "request body too large")
			return
		}
		writeError(c, http.StatusBadRequest, vital.CodeBadRequest, "reading request body")
		return
	}

	var batch []vital.Sample
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(c, http.StatusBadRequest, vital.CodeBadRequest, "body must be a JSON array of samples")
		return
	}
	if len(batch) > h.MaxBatchSize {
		writeError(c, http.StatusRequestEntityTooLarge, vital.CodeBatchTooLarge,
			fmt.Sprintf("batch of %d exceeds the limit of %d", len(batch), h.MaxBatchSize))
		return
	}

	result, err := h.Ingestor.Ingest(c.Request.Context(), principal, batch)
	if err != nil {
		writeIngestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result.Response())
}

type ProfileHandler struct {
	Users vital.UserDirectory
}

// Me handles GET /v1/me. Inactive users still get their profile so the
// device can stop syncing.
func (h *ProfileHandler) Me(c *gin.Context) {
	principal, _ := auth.PrincipalFromContext(c)

	user, err := h.Users.FindUserByUsername(c.Request.Context(), principal)
	if errors.Is(err, vital.ErrNotFound) {
		writeError(c, http.StatusUnauthorized, vital.CodeUnauthenticated, "unknown user")
		return
	}
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, vital.CodeStorageFailure, "loading user")
		return
	}
	_, retention, err := h.Users.GetUser(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, vital.CodeStorageFailure, "loading retention")
		return
	}

	profile := vital.Profile{
		Username: user.Username,
		Tier:     user.Tier,
		Active:   user.Active,
	}
	if retention != nil {
		profile.RetentionDays = retention.RetentionDays
	}
	writeJSON(c, http.StatusOK, profile)
}

func writeIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vital.ErrUnauthenticated):
		writeError(c, http.StatusUnauthorized, vital.CodeUnauthenticated, err.Error())
	case errors.Is(err, vital.ErrNotEntitled):
		writeError(c, http.StatusForbidden, vital.CodeNotEntitled, err.Error())
	default:
		writeError(c, http.StatusServiceUnavailable, vital.CodeStorageFailure, "central store unavailable")
	}
}

func writeError(c *gin.Context, status int, code, detail string) {
	writeJSON(c, status, vital.ErrorResponse{Error: code, Detail: detail})
	c.Abort()
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}
