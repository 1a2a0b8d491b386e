package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// Artifact keys are content addressed and immutable, so clients may
// cache aggressively.
const mediaCacheControl = "public, max-age=31536000, immutable"

// ServeMedia handles GET /media/:key, streaming an artifact out of the
// store.
func (c *Controller) ServeMedia(ctx echo.Context) error {
	key := ctx.Param("key")
	if !artifactstore.ValidKey(key) {
		return c.HandleError(ctx, nil, "invalid artifact key", http.StatusBadRequest)
	}
	if c.Artifacts == nil {
		return c.HandleError(ctx, nil, "artifact persistence is disabled",
			http.StatusNotFound)
	}

	info, rc, err := c.Artifacts.Get(ctx.Request().Context(), key)
	if err != nil {
		if errors.Is(err, artifactstore.ErrNotFound) {
			return c.HandleError(ctx, err, "artifact not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "failed to read artifact", statusFor(err))
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			c.logger.Warn("artifact reader close failed", "key", key, "error", cerr)
		}
	}()

	header := ctx.Response().Header()
	header.Set("Cache-Control", mediaCacheControl)
	if info.ETag != "" {
		etag := strconv.Quote(info.ETag)
		header.Set("ETag", etag)
		if match := ctx.Request().Header.Get("If-None-Match"); match != "" &&
			strings.Contains(match, etag) {
			return ctx.NoContent(http.StatusNotModified)
		}
	}
	if info.Size > 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ctx.Stream(http.StatusOK, contentType, rc)
}
