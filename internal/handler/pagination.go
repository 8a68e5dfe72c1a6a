package handler

import (
	"net/http"
	"strconv"

	"github.com/vibely/realtime-server-go/internal/service"
)

// ParsePage reads skip and limit. Missing or malformed values fall back to
// the defaults.
func ParsePage(r *http.Request) service.Page {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return service.NewPage(skip, limit)
}
