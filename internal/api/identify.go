package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"
)

// IdentifyImage handles POST /api/v2/identify: a multipart upload with
// an image part and an optional locale query parameter. A successful
// identification returns 201 with the assembled prediction result.
func (c *Controller) IdentifyImage(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		return c.HandleError(ctx, err, "request must carry a multipart image part",
			http.StatusBadRequest)
	}

	maxBytes := c.Settings.Artifacts.MaxUploadBytes
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("uploaded image exceeds the %s limit", bytes.Format(maxBytes)),
			http.StatusRequestEntityTooLarge)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "failed to read uploaded image",
			http.StatusBadRequest)
	}
	defer src.Close()

	raw, err := io.ReadAll(src)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read uploaded image",
			http.StatusBadRequest)
	}

	result, err := c.Identify.Identify(ctx.Request().Context(), raw, ctx.QueryParam("locale"))
	if err != nil {
		code := statusFor(err)
		message := "identification failed"
		switch code {
		case http.StatusBadRequest:
			message = "invalid image upload"
		case http.StatusServiceUnavailable:
			message = "classifier model is unavailable"
		}
		return c.HandleError(ctx, err, message, code)
	}

	return ctx.JSON(http.StatusCreated, result)
}
