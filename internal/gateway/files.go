package gateway

import (
	"strings"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// FilesHandler serves file_ messages from the files provider.
type FilesHandler struct {
	files *services.FilesService
}

func NewFilesHandler(files *services.FilesService) *FilesHandler {
	return &FilesHandler{files: files}
}

func (h *FilesHandler) Owns(msgType string) bool {
	return strings.HasPrefix(msgType, "file_")
}

func (h *FilesHandler) Handle(client *Client, env models.Envelope) {
	switch env.Type {
	case models.TypeFileList:
		var req models.FileListRequest
		if err := env.Decode(&req); err != nil {
			client.Send(models.ErrorEnvelope(models.TypeFileListResponse, "malformed file_list request"))
			return
		}
		entries, err := h.files.ListDirectory(req.Path)
		if err != nil {
			client.Send(models.ErrorEnvelope(models.TypeFileListResponse, err.Error()))
			return
		}
		client.Send(models.NewEnvelope(models.TypeFileListResponse,
			models.FileListResponse{Path: req.Path, Entries: entries}))

	case models.TypeFileTree:
		var req models.FileTreeRequest
		if err := env.Decode(&req); err != nil {
			client.Send(models.ErrorEnvelope(models.TypeFileTreeResponse, "malformed file_tree request"))
			return
		}
		tree, err := h.files.GenerateTree(req.Path, req.MaxDepth)
		if err != nil {
			client.Send(models.ErrorEnvelope(models.TypeFileTreeResponse, err.Error()))
			return
		}
		client.Send(models.NewEnvelope(models.TypeFileTreeResponse,
			models.FileTreeResponse{Tree: tree}))
	}
}

func (h *FilesHandler) Cleanup(string) {}
