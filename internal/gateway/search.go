package gateway

import (
	"strings"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// SearchHandler serves search messages from the text-search provider.
type SearchHandler struct {
	search *services.SearchService
}

func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

func (h *SearchHandler) Owns(msgType string) bool {
	return strings.HasPrefix(msgType, "search")
}

func (h *SearchHandler) Handle(client *Client, env models.Envelope) {
	if env.Type != models.TypeSearch {
		return
	}

	var req models.SearchRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.ErrorEnvelope(models.TypeSearchResponse, "malformed search request"))
		return
	}

	matches, truncated, err := h.search.Search(req.Query, req.Path, req.Options)
	if err != nil {
		client.Send(models.ErrorEnvelope(models.TypeSearchResponse, err.Error()))
		return
	}
	client.Send(models.NewEnvelope(models.TypeSearchResponse,
		models.SearchResponse{Matches: matches, Truncated: truncated}))
}

func (h *SearchHandler) Cleanup(string) {}
