package models

import "time"

// FileEntry describes one directory entry from the file-tree provider
// @Description Single file or directory entry with metadata
type FileEntry struct {
	Name      string    `json:"name" example:"main.go"`
	Path      string    `json:"path" example:"src/main.go"`
	IsDir     bool      `json:"is_dir" example:"false"`
	IsSymlink bool      `json:"is_symlink,omitempty" example:"false"`
	Size      int64     `json:"size" example:"2048"`
	Mode      string    `json:"mode" example:"-rw-r--r--"`
	ModTime   time.Time `json:"mod_time"`
}

// TreeNode is one node of a depth-limited directory tree
// @Description Recursive directory tree node
type TreeNode struct {
	Name      string      `json:"name" example:"src"`
	Path      string      `json:"path" example:"src"`
	IsDir     bool        `json:"is_dir" example:"true"`
	Children  []*TreeNode `json:"children,omitempty"`
	Truncated bool        `json:"truncated,omitempty" example:"false"`
}

// FileListRequest asks for one directory listing over the gateway protocol.
type FileListRequest struct {
	Path string `json:"path"`
}

// FileListResponse carries a directory listing.
type FileListResponse struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

// FileTreeRequest asks for a depth-limited tree. MaxDepth defaults to 3.
type FileTreeRequest struct {
	Path     string `json:"path"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

// FileTreeResponse carries the generated tree.
type FileTreeResponse struct {
	Tree *TreeNode `json:"tree"`
}
