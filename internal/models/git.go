package models

// GitFileStat is the two-column status of one file
// @Description Per-file staging and worktree status codes (git porcelain letters)
type GitFileStat struct {
	Path     string `json:"path" example:"internal/server.go"`
	Staging  string `json:"staging" example:"M"`
	Worktree string `json:"worktree" example:" "`
}

// GitStatus summarizes a repository's working state
// @Description Branch, cleanliness and per-file status of a repository
type GitStatus struct {
	Branch  string        `json:"branch" example:"main"`
	IsClean bool          `json:"is_clean" example:"false"`
	Files   []GitFileStat `json:"files"`
}

// GitDiff is a unified diff for one file, staged or unstaged
// @Description Unified diff text for a single file
type GitDiff struct {
	File   string `json:"file" example:"internal/server.go"`
	Staged bool   `json:"staged" example:"false"`
	Patch  string `json:"patch"`
	Binary bool   `json:"binary,omitempty"`
}

// GitCommitResult reports a created commit
// @Description Hash and message of the commit that was created
type GitCommitResult struct {
	Hash    string `json:"hash" example:"b2f4c9a"`
	Message string `json:"message" example:"fix listener leak"`
}

// GitStatusRequest asks for the status of the repository at path.
type GitStatusRequest struct {
	Path string `json:"path"`
}

// GitDiffRequest asks for one file's staged or unstaged diff.
type GitDiffRequest struct {
	Path   string `json:"path"`
	File   string `json:"file"`
	Staged bool   `json:"staged,omitempty"`
}

// GitFileRequest addresses one file for stage/unstage/discard.
type GitFileRequest struct {
	Path string `json:"path"`
	File string `json:"file"`
}

// GitCommitRequest commits the staged changes.
type GitCommitRequest struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// GitOpResponse acknowledges a state-changing git operation.
type GitOpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
