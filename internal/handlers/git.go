package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// GitHandler mirrors the git provider over REST.
type GitHandler struct {
	git *services.GitService
}

// NewGitHandler creates a new git handler
func NewGitHandler(git *services.GitService) *GitHandler {
	return &GitHandler{git: git}
}

// GetStatus returns a repository's status
// @Summary Get repository status
// @Description Returns branch, cleanliness and per-file status codes. Responses are cached briefly.
// @Tags git
// @Produce json
// @Param path query string true "Repository path relative to the files root"
// @Success 200 {object} models.GitStatus
// @Failure 400 {object} map[string]interface{}
// @Router /v1/git/status [get]
func (h *GitHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.git.Status(c.Query("path", ""))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(status)
}

// GetDiff returns one file's diff
// @Summary Get a file diff
// @Description Returns the unified diff of one file, staged (index vs HEAD) or unstaged (worktree vs index)
// @Tags git
// @Produce json
// @Param path query string true "Repository path relative to the files root"
// @Param file query string true "File path relative to the repository root"
// @Param staged query bool false "Diff the staged side"
// @Success 200 {object} models.GitDiff
// @Failure 400 {object} map[string]interface{}
// @Router /v1/git/diff [get]
func (h *GitHandler) GetDiff(c *fiber.Ctx) error {
	diff, err := h.git.FileDiff(c.Query("path", ""), c.Query("file", ""), c.QueryBool("staged", false))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(diff)
}

// Stage stages one file
// @Summary Stage a file
// @Description Adds one file (or its deletion) to the index
// @Tags git
// @Accept json
// @Produce json
// @Param request body models.GitFileRequest true "Repository and file"
// @Success 200 {object} models.GitOpResponse
// @Router /v1/git/stage [post]
func (h *GitHandler) Stage(c *fiber.Ctx) error {
	return h.fileOp(c, h.git.Stage)
}

// Unstage removes one file from the index
// @Summary Unstage a file
// @Description Restores one file's index entry from HEAD
// @Tags git
// @Accept json
// @Produce json
// @Param request body models.GitFileRequest true "Repository and file"
// @Success 200 {object} models.GitOpResponse
// @Router /v1/git/unstage [post]
func (h *GitHandler) Unstage(c *fiber.Ctx) error {
	return h.fileOp(c, h.git.Unstage)
}

// Discard restores one file's worktree content from the index
// @Summary Discard worktree changes
// @Description Overwrites one tracked file's worktree content with its index blob. Untracked files are refused.
// @Tags git
// @Accept json
// @Produce json
// @Param request body models.GitFileRequest true "Repository and file"
// @Success 200 {object} models.GitOpResponse
// @Router /v1/git/discard [post]
func (h *GitHandler) Discard(c *fiber.Ctx) error {
	return h.fileOp(c, h.git.Discard)
}

// Commit commits the staged changes
// @Summary Create a commit
// @Description Commits whatever is staged. Fails when nothing is staged or the message is empty.
// @Tags git
// @Accept json
// @Produce json
// @Param request body models.GitCommitRequest true "Repository and message"
// @Success 200 {object} models.GitCommitResult
// @Failure 400 {object} map[string]interface{}
// @Router /v1/git/commit [post]
func (h *GitHandler) Commit(c *fiber.Ctx) error {
	var req models.GitCommitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	result, err := h.git.Commit(req.Path, req.Message)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

func (h *GitHandler) fileOp(c *fiber.Ctx, op func(path, file string) error) error {
	var req models.GitFileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.GitOpResponse{
			Success: false,
			Message: "invalid request body",
		})
	}

	if err := op(req.Path, req.File); err != nil {
		return c.JSON(models.GitOpResponse{Success: false, Message: err.Error()})
	}
	return c.JSON(models.GitOpResponse{Success: true})
}
