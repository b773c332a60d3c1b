package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/portside-dev/portside/internal/models"
)

const (
	defaultTreeDepth = 3
	maxTreeDepth     = 10
	// maxTreeEntries caps children per directory so one node_modules does
	// not balloon a tree payload.
	maxTreeEntries = 200
)

// FilesService lists directories and builds depth-limited trees under a
// single root. Every requested path is resolved against the root and
// rejected when it escapes it.
type FilesService struct {
	root string
}

// NewFilesService creates a files service rooted at root. The root must be
// absolute; the config layer guarantees that.
func NewFilesService(root string) *FilesService {
	return &FilesService{root: filepath.Clean(root)}
}

// Root returns the confined root directory.
func (s *FilesService) Root() string {
	return s.root
}

// resolve maps a client-supplied path onto the root, refusing escapes.
// Empty path means the root itself.
func (s *FilesService) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	abs := filepath.Join(s.root, cleaned)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the files root", path)
	}
	return abs, nil
}

// relative converts an absolute path back to the client-visible form.
func (s *FilesService) relative(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// ListDirectory returns the entries of one directory, directories first,
// each group sorted by name. Dotfiles are included.
func (s *FilesService) ListDirectory(path string) ([]models.FileEntry, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	entries := make([]models.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info; skip it.
			continue
		}
		entry := models.FileEntry{
			Name:      de.Name(),
			Path:      s.relative(filepath.Join(abs, de.Name())),
			IsDir:     de.IsDir(),
			IsSymlink: info.Mode()&os.ModeSymlink != 0,
			Size:      info.Size(),
			Mode:      info.Mode().String(),
			ModTime:   info.ModTime(),
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// GenerateTree builds a depth-limited tree rooted at path. Symlinks are
// listed but never followed; directories with more than maxTreeEntries
// children are truncated and marked.
func (s *FilesService) GenerateTree(path string, maxDepth int) (*models.TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = defaultTreeDepth
	}
	if maxDepth > maxTreeDepth {
		maxDepth = maxTreeDepth
	}

	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	root := &models.TreeNode{
		Name:  filepath.Base(abs),
		Path:  s.relative(abs),
		IsDir: info.IsDir(),
	}
	if abs == s.root {
		root.Name = "/"
	}
	if info.IsDir() {
		if err := s.fillTree(root, abs, maxDepth); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func (s *FilesService) fillTree(node *models.TreeNode, abs string, depth int) error {
	if depth <= 0 {
		node.Truncated = true
		return nil
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", node.Path, err)
	}

	sort.Slice(dirEntries, func(i, j int) bool {
		if dirEntries[i].IsDir() != dirEntries[j].IsDir() {
			return dirEntries[i].IsDir()
		}
		return dirEntries[i].Name() < dirEntries[j].Name()
	})

	for _, de := range dirEntries {
		if len(node.Children) >= maxTreeEntries {
			node.Truncated = true
			break
		}
		childAbs := filepath.Join(abs, de.Name())
		child := &models.TreeNode{
			Name:  de.Name(),
			Path:  s.relative(childAbs),
			IsDir: de.IsDir(),
		}
		// ReadDir does not follow symlinks, so a symlinked directory
		// reports IsDir false and stays a leaf. That is what we want:
		// following links risks cycles and root escapes.
		if de.IsDir() {
			if err := s.fillTree(child, childAbs, depth-1); err != nil {
				return err
			}
		}
		node.Children = append(node.Children, child)
	}
	return nil
}
