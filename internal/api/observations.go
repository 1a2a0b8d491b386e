package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/suncalc"
)

// observationLocation carries the request coordinates. Pointers
// distinguish an absent coordinate from a legitimate zero.
type observationLocation struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// createObservationRequest is the POST /observations body.
type createObservationRequest struct {
	SpeciesScientificName string              `json:"species_scientific_name"`
	Count                 int                 `json:"count"`
	Location              observationLocation `json:"location"`
	ObservedAt            string              `json:"observed_at"`
	Notes                 string              `json:"notes"`
	ObserverID            string              `json:"observer_id"`
	LocationAccuracyM     float64             `json:"location_accuracy_m"`
	DataSource            string              `json:"data_source"`
	ModelID               string              `json:"model_id"`
	Confidence            *float64            `json:"confidence"`
	ImageKey              string              `json:"image_key"`
}

// amendObservationRequest is the PATCH /observations/:id body. Only
// notes and metadata may change after insert.
type amendObservationRequest struct {
	Notes    *string        `json:"notes"`
	Metadata map[string]any `json:"metadata"`
}

// observationResponse is the stored observation as served, with the
// metadata bundle decoded into a map.
type observationResponse struct {
	ID                    string              `json:"id"`
	SpeciesScientificName string              `json:"species_scientific_name"`
	Count                 int                 `json:"count"`
	Location              observationLocation `json:"location"`
	LocationAccuracyM     float64             `json:"location_accuracy_m,omitempty"`
	ObservedAt            time.Time           `json:"observed_at"`
	Notes                 string              `json:"notes,omitempty"`
	ObserverID            string              `json:"observer_id,omitempty"`
	DataSource            string              `json:"data_source,omitempty"`
	ModelID               string              `json:"model_id,omitempty"`
	Confidence            *float64            `json:"confidence,omitempty"`
	ImageKey              string              `json:"image_key,omitempty"`
	Metadata              map[string]any      `json:"metadata,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

type observationListResponse struct {
	Observations []observationResponse `json:"observations"`
	Total        int64                 `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

func (c *Controller) toObservationResponse(obs *datastore.Observation) observationResponse {
	lat, lng := obs.Latitude, obs.Longitude
	resp := observationResponse{
		ID:                    obs.ID,
		SpeciesScientificName: obs.SpeciesScientificName,
		Count:                 obs.SpecimenCount,
		Location:              observationLocation{Lat: &lat, Lng: &lng},
		LocationAccuracyM:     obs.LocationAccuracyM,
		ObservedAt:            obs.ObservedAt.UTC(),
		Notes:                 obs.Notes,
		ObserverID:            obs.ObserverID,
		DataSource:            obs.DataSource,
		ModelID:               obs.ModelID,
		Confidence:            obs.Confidence,
		ImageKey:              obs.ImageKey,
		CreatedAt:             obs.CreatedAt.UTC(),
		UpdatedAt:             obs.UpdatedAt.UTC(),
	}

	metadata, err := obs.MetadataMap()
	if err != nil {
		c.logger.Warn("stored metadata does not decode, serving observation without it",
			"observation_id", obs.ID, "error", err)
	} else {
		resp.Metadata = metadata
	}
	return resp
}

// parseObservedAt accepts RFC 3339 timestamps, with or without an
// offset, and bare dates. Times without an offset are taken as UTC.
func parseObservedAt(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("observed_at %q is not an ISO-8601 timestamp", value).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// CreateObservation handles POST /api/v2/observations. The stored row
// gets a generated identifier and, when the solar calculator is
// available, a solar_period metadata entry derived from the observation
// coordinates and time.
func (c *Controller) CreateObservation(ctx echo.Context) error {
	var req createObservationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "request body is not valid JSON",
			http.StatusBadRequest)
	}
	if req.Location.Lat == nil || req.Location.Lng == nil {
		return c.HandleError(ctx, nil, "location.lat and location.lng are required",
			http.StatusBadRequest)
	}
	if req.ObservedAt == "" {
		return c.HandleError(ctx, nil, "observed_at is required",
			http.StatusBadRequest)
	}

	observedAt, err := parseObservedAt(req.ObservedAt)
	if err != nil {
		return c.HandleError(ctx, err, "observed_at is not a valid timestamp",
			http.StatusBadRequest)
	}

	obs := &datastore.Observation{
		SpeciesScientificName: strings.TrimSpace(req.SpeciesScientificName),
		Latitude:              *req.Location.Lat,
		Longitude:             *req.Location.Lng,
		LocationAccuracyM:     req.LocationAccuracyM,
		ObservedAt:            observedAt,
		SpecimenCount:         req.Count,
		Notes:                 req.Notes,
		ObserverID:            req.ObserverID,
		DataSource:            req.DataSource,
		ModelID:               req.ModelID,
		Confidence:            req.Confidence,
		ImageKey:              req.ImageKey,
	}

	c.enrichSolarPeriod(obs)

	if err := c.DS.SaveObservation(ctx.Request().Context(), obs); err != nil {
		code := statusFor(err)
		message := "failed to store observation"
		if code == http.StatusBadRequest {
			message = "observation is invalid"
		}
		return c.HandleError(ctx, err, message, code)
	}

	c.publishStored(obs)

	return ctx.JSON(http.StatusCreated, c.toObservationResponse(obs))
}

// enrichSolarPeriod stamps the solar period for the observation's
// coordinates and time into its metadata. Polar day and night make the
// period undefined; the observation is then stored without it.
func (c *Controller) enrichSolarPeriod(obs *datastore.Observation) {
	if c.SunCalc == nil {
		return
	}
	period, err := c.SunCalc.PeriodAt(obs.Latitude, obs.Longitude, obs.ObservedAt)
	if err != nil {
		c.logger.Debug("solar period unavailable for observation",
			"latitude", obs.Latitude,
			"longitude", obs.Longitude,
			"error", err)
		return
	}
	if err := obs.SetMetadata(map[string]any{suncalc.MetadataKey: string(period)}); err != nil {
		c.logger.Warn("failed to encode solar period metadata", "error", err)
	}
}

// publishStored hands the stored observation to the broker publisher
// without blocking the response. Shutdown waits for in-flight
// publishes.
func (c *Controller) publishStored(obs *datastore.Observation) {
	if c.Publisher == nil {
		return
	}
	snapshot := *obs
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !c.Publisher.IsConnected() {
			c.logger.Debug("broker not connected, skipping observation publish",
				"observation_id", snapshot.ID)
			return
		}
		pubCtx, cancel := context.WithTimeout(c.ctx, publishTimeout)
		defer cancel()
		if err := c.Publisher.PublishObservation(pubCtx, &snapshot); err != nil {
			c.logger.Warn("observation publish failed",
				"observation_id", snapshot.ID, "error", err)
		}
	}()
}

// GetObservation handles GET /api/v2/observations/:id.
func (c *Controller) GetObservation(ctx echo.Context) error {
	obs, err := c.DS.GetObservation(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		code := statusFor(err)
		message := "failed to load observation"
		if code == http.StatusNotFound {
			message = "observation not found"
		}
		return c.HandleError(ctx, err, message, code)
	}
	return ctx.JSON(http.StatusOK, c.toObservationResponse(obs))
}

// AmendObservation handles PATCH /api/v2/observations/:id. Only notes
// and metadata are amendable; everything else is write-once.
func (c *Controller) AmendObservation(ctx echo.Context) error {
	var req amendObservationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "request body is not valid JSON",
			http.StatusBadRequest)
	}
	if req.Notes == nil && req.Metadata == nil {
		return c.HandleError(ctx, nil, "amendment must carry notes or metadata",
			http.StatusBadRequest)
	}

	amendment := datastore.ObservationAmendment{
		Notes:    req.Notes,
		Metadata: req.Metadata,
	}
	obs, err := c.DS.AmendObservation(ctx.Request().Context(), ctx.Param("id"), amendment)
	if err != nil {
		code := statusFor(err)
		message := "failed to amend observation"
		if code == http.StatusNotFound {
			message = "observation not found"
		}
		return c.HandleError(ctx, err, message, code)
	}
	return ctx.JSON(http.StatusOK, c.toObservationResponse(obs))
}

// ListObservations handles GET /api/v2/observations with the query
// layer filters: species and region sets, a time window, a confidence
// floor, a bounding box, and pagination.
func (c *Controller) ListObservations(ctx echo.Context) error {
	filter, err := parseObservationFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid query parameters",
			http.StatusBadRequest)
	}

	observations, total, err := c.DS.SearchObservations(ctx.Request().Context(), *filter)
	if err != nil {
		code := statusFor(err)
		return c.HandleError(ctx, err, "failed to query observations", code)
	}

	resp := observationListResponse{
		Observations: make([]observationResponse, 0, len(observations)),
		Total:        total,
		Limit:        effectiveLimit(filter.Limit),
		Offset:       max(filter.Offset, 0),
	}
	for i := range observations {
		resp.Observations = append(resp.Observations, c.toObservationResponse(&observations[i]))
	}
	return ctx.JSON(http.StatusOK, resp)
}

func parseObservationFilter(ctx echo.Context) (*datastore.ObservationFilter, error) {
	filter := &datastore.ObservationFilter{
		Species: splitCSV(ctx.QueryParam("species")),
		Regions: splitCSV(ctx.QueryParam("region")),
	}

	if v := ctx.QueryParam("from"); v != "" {
		t, err := parseObservedAt(v)
		if err != nil {
			return nil, err
		}
		filter.From = t
	}
	if v := ctx.QueryParam("to"); v != "" {
		t, err := parseObservedAt(v)
		if err != nil {
			return nil, err
		}
		filter.To = t
	}
	if v := ctx.QueryParam("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, queryParamError("min_confidence", v)
		}
		filter.MinConfidence = f
	}
	if v := ctx.QueryParam("bbox"); v != "" {
		box, err := parseBBox(v)
		if err != nil {
			return nil, err
		}
		filter.BBox = box
	}
	var err error
	if filter.Limit, filter.Offset, err = parsePage(ctx); err != nil {
		return nil, err
	}
	return filter, nil
}

// parseBBox parses "minLat,minLng,maxLat,maxLng".
func parseBBox(value string) (*datastore.BoundingBox, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return nil, queryParamError("bbox", value)
	}
	coords := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, queryParamError("bbox", value)
		}
		coords[i] = f
	}
	box := &datastore.BoundingBox{
		MinLat: coords[0],
		MinLng: coords[1],
		MaxLat: coords[2],
		MaxLng: coords[3],
	}
	if !box.Valid() {
		return nil, queryParamError("bbox", value)
	}
	return box, nil
}

func queryParamError(name, value string) error {
	return errors.Newf("query parameter %s=%q is invalid", name, value).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// effectiveLimit mirrors the page clamping the datastore applies, so
// the envelope reports the limit actually used.
func effectiveLimit(limit int) int {
	if limit <= 0 {
		return datastore.DefaultPageLimit
	}
	if limit > datastore.MaxPageLimit {
		return datastore.MaxPageLimit
	}
	return limit
}
