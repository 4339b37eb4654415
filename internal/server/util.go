package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/lokivisor/internal/manager"
	"github.com/loykin/lokivisor/internal/process"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// statusCodeFor maps lifecycle errors to HTTP status codes.
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, mng.ErrNotRunning),
		errors.Is(err, mng.ErrManagedStopInProgress):
		return http.StatusConflict
	case errors.Is(err, mng.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
