package gateway

import (
	"strings"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

// GitHandler serves git_ messages from the git provider. Read operations
// answer with data or an error envelope; state-changing operations answer
// with a success flag so UIs always have something to render.
type GitHandler struct {
	git *services.GitService
}

func NewGitHandler(git *services.GitService) *GitHandler {
	return &GitHandler{git: git}
}

func (h *GitHandler) Owns(msgType string) bool {
	return strings.HasPrefix(msgType, "git_")
}

func (h *GitHandler) Handle(client *Client, env models.Envelope) {
	switch env.Type {
	case models.TypeGitStatus:
		var req models.GitStatusRequest
		if err := env.Decode(&req); err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitStatusResponse, "malformed git_status request"))
			return
		}
		status, err := h.git.Status(req.Path)
		if err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitStatusResponse, err.Error()))
			return
		}
		client.Send(models.NewEnvelope(models.TypeGitStatusResponse, status))

	case models.TypeGitDiff:
		var req models.GitDiffRequest
		if err := env.Decode(&req); err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitDiffResponse, "malformed git_diff request"))
			return
		}
		diff, err := h.git.FileDiff(req.Path, req.File, req.Staged)
		if err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitDiffResponse, err.Error()))
			return
		}
		client.Send(models.NewEnvelope(models.TypeGitDiffResponse, diff))

	case models.TypeGitStage:
		h.fileOp(client, env, models.TypeGitStageResponse, h.git.Stage)
	case models.TypeGitUnstage:
		h.fileOp(client, env, models.TypeGitUnstageResponse, h.git.Unstage)
	case models.TypeGitDiscard:
		h.fileOp(client, env, models.TypeGitDiscardResponse, h.git.Discard)

	case models.TypeGitCommit:
		var req models.GitCommitRequest
		if err := env.Decode(&req); err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitCommitResponse, "malformed git_commit request"))
			return
		}
		result, err := h.git.Commit(req.Path, req.Message)
		if err != nil {
			client.Send(models.ErrorEnvelope(models.TypeGitCommitResponse, err.Error()))
			return
		}
		client.Send(models.NewEnvelope(models.TypeGitCommitResponse, result))
	}
}

// fileOp runs one stage/unstage/discard request and replies with a
// success-or-message acknowledgement.
func (h *GitHandler) fileOp(client *Client, env models.Envelope, respType string, op func(path, file string) error) {
	var req models.GitFileRequest
	if err := env.Decode(&req); err != nil {
		client.Send(models.NewEnvelope(respType,
			models.GitOpResponse{Success: false, Message: "malformed request"}))
		return
	}

	resp := models.GitOpResponse{Success: true}
	if err := op(req.Path, req.File); err != nil {
		resp.Success = false
		resp.Message = err.Error()
	}
	client.Send(models.NewEnvelope(respType, resp))
}

func (h *GitHandler) Cleanup(string) {}
