package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// FilesHandler mirrors the file-tree provider over REST for consumers that
// do not hold a gateway socket.
type FilesHandler struct {
	files *services.FilesService
}

// NewFilesHandler creates a new files handler
func NewFilesHandler(files *services.FilesService) *FilesHandler {
	return &FilesHandler{files: files}
}

// ListDirectory lists one directory
// @Summary List a directory
// @Description Returns the entries of one directory under the files root, directories first
// @Tags files
// @Produce json
// @Param path query string false "Directory path relative to the files root"
// @Success 200 {object} models.FileListResponse
// @Failure 400 {object} map[string]interface{}
// @Router /v1/files [get]
func (h *FilesHandler) ListDirectory(c *fiber.Ctx) error {
	path := c.Query("path", "")

	entries, err := h.files.ListDirectory(path)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(models.FileListResponse{Path: path, Entries: entries})
}

// GenerateTree returns a depth-limited tree
// @Summary Generate a directory tree
// @Description Returns a recursive tree under path, bounded by depth and per-directory entry caps
// @Tags files
// @Produce json
// @Param path query string false "Root of the tree relative to the files root"
// @Param depth query int false "Maximum depth (default 3)"
// @Success 200 {object} models.FileTreeResponse
// @Failure 400 {object} map[string]interface{}
// @Router /v1/files/tree [get]
func (h *FilesHandler) GenerateTree(c *fiber.Ctx) error {
	path := c.Query("path", "")
	depth := c.QueryInt("depth", 0)

	tree, err := h.files.GenerateTree(path, depth)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(models.FileTreeResponse{Tree: tree})
}
