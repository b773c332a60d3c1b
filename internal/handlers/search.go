package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// SearchHandler mirrors the text-search provider over REST.
type SearchHandler struct {
	search *services.SearchService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// Search runs a text search
// @Summary Search file contents
// @Description Line-oriented text search under the files root. Binary and oversized files are skipped.
// @Tags search
// @Produce json
// @Param q query string true "Query, literal or regex"
// @Param path query string false "Directory to search under"
// @Param regex query bool false "Treat q as a regular expression"
// @Param ignore_case query bool false "Case-insensitive matching"
// @Param include query string false "Filename glob, e.g. **/*.go"
// @Param max query int false "Result cap (default 200)"
// @Success 200 {object} models.SearchResponse
// @Failure 400 {object} map[string]interface{}
// @Router /v1/search [get]
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query parameter q is required",
		})
	}

	opts := models.SearchOptions{
		Regex:           c.QueryBool("regex", false),
		CaseInsensitive: c.QueryBool("ignore_case", false),
		Include:         c.Query("include", ""),
		MaxResults:      c.QueryInt("max", 0),
	}

	matches, truncated, err := h.search.Search(query, c.Query("path", ""), opts)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(models.SearchResponse{Matches: matches, Truncated: truncated})
}
