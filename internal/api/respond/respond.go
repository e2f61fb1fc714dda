// Package respond centralises the JSON response envelope used by every
// handler. Success bodies carry {"success": true, ...}; failures carry a
// stable machine-readable code alongside the human-readable detail:
//
//	{"success": false, "error": "<kind>", "code": "<machine_code>", "detail": "<human>"}
//
// Handlers never serialize raw Go errors: DB and crypto error strings can leak
// internals, so the detail field is always authored text.
package respond

import "github.com/gin-gonic/gin"

// Error kinds, the coarse classification carried in the "error" field.
const (
	KindBadRequest   = "bad_request"
	KindUnauthorized = "unauthorized"
	KindForbidden    = "forbidden"
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindRateLimited  = "rate_limited"
	KindInternal     = "internal"
)

// OK writes a success envelope, merging payload into it.
func OK(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// Error writes a failure envelope.
func Error(c *gin.Context, status int, kind, code, detail string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   kind,
		"code":    code,
		"detail":  detail,
	})
}
