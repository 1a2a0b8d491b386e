package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
)

// requestLocale normalizes the locale query parameter. Unknown locales
// fall back to the default instead of failing the read.
func requestLocale(ctx echo.Context) string {
	locale, _ := conf.NormalizeLocale(ctx.QueryParam("locale"))
	return locale
}

type speciesListResponse struct {
	Species []datastore.SpeciesView `json:"species"`
	Count   int                     `json:"count"`
	Locale  string                  `json:"locale"`
}

type diseaseListResponse struct {
	Diseases []datastore.DiseaseView `json:"diseases"`
	Count    int                     `json:"count"`
	Locale   string                  `json:"locale"`
}

type similarSpeciesResponse struct {
	SpeciesID string                   `json:"species_id"`
	Matches   []datastore.SpeciesMatch `json:"matches"`
}

// ListSpecies handles GET /api/v2/species with region, vector_status,
// q, limit and offset filters.
func (c *Controller) ListSpecies(ctx echo.Context) error {
	locale := requestLocale(ctx)

	filter := datastore.SpeciesFilter{
		Region:       ctx.QueryParam("region"),
		VectorStatus: ctx.QueryParam("vector_status"),
		Query:        ctx.QueryParam("q"),
	}
	var err error
	if filter.Limit, filter.Offset, err = parsePage(ctx); err != nil {
		return c.HandleError(ctx, err, "invalid query parameters", http.StatusBadRequest)
	}

	species, err := c.DS.SearchSpecies(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "failed to query species", statusFor(err))
	}

	resp := speciesListResponse{
		Species: make([]datastore.SpeciesView, 0, len(species)),
		Locale:  locale,
	}
	for i := range species {
		resp.Species = append(resp.Species, species[i].Localize(locale))
	}
	resp.Count = len(resp.Species)
	return ctx.JSON(http.StatusOK, resp)
}

// GetSpecies handles GET /api/v2/species/:id. The view carries the
// related diseases assembled from the authoritative Disease.Vectors
// side.
func (c *Controller) GetSpecies(ctx echo.Context) error {
	locale := requestLocale(ctx)

	species, err := c.DS.GetSpecies(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		code := statusFor(err)
		message := "failed to load species"
		if code == http.StatusNotFound {
			message = "species not found"
		}
		return c.HandleError(ctx, err, message, code)
	}

	view := species.Localize(locale)

	diseases, err := c.DS.DiseasesOf(ctx.Request().Context(), species.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load related diseases", statusFor(err))
	}
	for i := range diseases {
		view.RelatedDiseases = append(view.RelatedDiseases, datastore.RelatedDisease{
			ID:   diseases[i].ID,
			Name: diseases[i].Localize(locale).Name,
		})
	}

	return ctx.JSON(http.StatusOK, view)
}

// GetSpeciesDiseases handles GET /api/v2/species/:id/diseases.
func (c *Controller) GetSpeciesDiseases(ctx echo.Context) error {
	locale := requestLocale(ctx)

	// The vector link query alone cannot distinguish an unknown species
	// from a species with no linked diseases.
	species, err := c.DS.GetSpecies(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		code := statusFor(err)
		message := "failed to load species"
		if code == http.StatusNotFound {
			message = "species not found"
		}
		return c.HandleError(ctx, err, message, code)
	}

	diseases, err := c.DS.DiseasesOf(ctx.Request().Context(), species.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to query diseases", statusFor(err))
	}

	resp := diseaseListResponse{
		Diseases: make([]datastore.DiseaseView, 0, len(diseases)),
		Locale:   locale,
	}
	for i := range diseases {
		resp.Diseases = append(resp.Diseases, diseases[i].Localize(locale))
	}
	resp.Count = len(resp.Diseases)
	return ctx.JSON(http.StatusOK, resp)
}

// SimilarSpecies handles GET /api/v2/species/similar?to=<id>&k=<n>. The
// catalog scan scores the query species itself highest, so the handler
// requests one extra neighbor and drops the query from the result.
func (c *Controller) SimilarSpecies(ctx echo.Context) error {
	id := ctx.QueryParam("to")
	if id == "" {
		return c.HandleError(ctx, nil, "query parameter to is required",
			http.StatusBadRequest)
	}

	k := 5
	if v := ctx.QueryParam("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.HandleError(ctx, queryParamError("k", v),
				"query parameter k must be a positive integer", http.StatusBadRequest)
		}
		k = n
	}

	species, err := c.DS.GetSpecies(ctx.Request().Context(), id)
	if err != nil {
		code := statusFor(err)
		message := "failed to load species"
		if code == http.StatusNotFound {
			message = "species not found"
		}
		return c.HandleError(ctx, err, message, code)
	}

	embedding, err := datastore.DecodeEmbedding(species.Embedding)
	if err != nil || len(embedding) == 0 {
		return c.HandleError(ctx, err, "species has no embedding for similarity search",
			http.StatusUnprocessableEntity)
	}

	matches, err := c.DS.SimilarSpecies(ctx.Request().Context(), embedding, k+1)
	if err != nil {
		return c.HandleError(ctx, err, "similarity search failed", statusFor(err))
	}

	resp := similarSpeciesResponse{
		SpeciesID: species.ID,
		Matches:   make([]datastore.SpeciesMatch, 0, k),
	}
	for _, m := range matches {
		if m.SpeciesID == species.ID {
			continue
		}
		resp.Matches = append(resp.Matches, m)
		if len(resp.Matches) == k {
			break
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

// ListDiseases handles GET /api/v2/diseases with q, limit and offset
// filters. The name match spans all locale bundles so a query in any
// supported language finds its disease.
func (c *Controller) ListDiseases(ctx echo.Context) error {
	locale := requestLocale(ctx)

	filter := datastore.DiseaseFilter{
		Query: ctx.QueryParam("q"),
	}
	var err error
	if filter.Limit, filter.Offset, err = parsePage(ctx); err != nil {
		return c.HandleError(ctx, err, "invalid query parameters", http.StatusBadRequest)
	}

	diseases, err := c.DS.SearchDiseases(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "failed to query diseases", statusFor(err))
	}

	resp := diseaseListResponse{
		Diseases: make([]datastore.DiseaseView, 0, len(diseases)),
		Locale:   locale,
	}
	for i := range diseases {
		resp.Diseases = append(resp.Diseases, diseases[i].Localize(locale))
	}
	resp.Count = len(resp.Diseases)
	return ctx.JSON(http.StatusOK, resp)
}

// GetDisease handles GET /api/v2/diseases/:id.
func (c *Controller) GetDisease(ctx echo.Context) error {
	locale := requestLocale(ctx)

	disease, err := c.DS.GetDisease(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		code := statusFor(err)
		message := "failed to load disease"
		if code == http.StatusNotFound {
			message = "disease not found"
		}
		return c.HandleError(ctx, err, message, code)
	}
	return ctx.JSON(http.StatusOK, disease.Localize(locale))
}

// GetDiseaseVectors handles GET /api/v2/diseases/:id/vectors, listing
// the species that transmit the disease.
func (c *Controller) GetDiseaseVectors(ctx echo.Context) error {
	locale := requestLocale(ctx)

	vectors, err := c.DS.VectorsOf(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		code := statusFor(err)
		message := "failed to load disease vectors"
		if code == http.StatusNotFound {
			message = "disease not found"
		}
		return c.HandleError(ctx, err, message, code)
	}

	resp := speciesListResponse{
		Species: make([]datastore.SpeciesView, 0, len(vectors)),
		Locale:  locale,
	}
	for i := range vectors {
		resp.Species = append(resp.Species, vectors[i].Localize(locale))
	}
	resp.Count = len(resp.Species)
	return ctx.JSON(http.StatusOK, resp)
}

// parsePage reads the limit and offset query parameters. The datastore
// applies its own clamping; here only syntax is rejected.
func parsePage(ctx echo.Context) (limit, offset int, err error) {
	if v := ctx.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, queryParamError("limit", v)
		}
	}
	if v := ctx.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, queryParamError("offset", v)
		}
	}
	return limit, offset, nil
}
