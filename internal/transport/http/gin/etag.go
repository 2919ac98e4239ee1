package httpgin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
)

// writeJSONWithCache writes v with an ETag and Cache-Control header and
// answers 304 when If-None-Match carries the same tag.
func writeJSONWithCache(c *gin.Context, status int, v any, cacheControl string, weak bool) {
	b, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	tag := `"` + strconv.FormatUint(xxhash.Sum64(b), 16) + `"`
	if weak {
		tag = "W/" + tag
	}

	c.Header("ETag", tag)
	if cacheControl != "" {
		c.Header("Cache-Control", cacheControl)
	}
	if c.GetHeader("If-None-Match") == tag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(status, "application/json; charset=utf-8", b)
}
