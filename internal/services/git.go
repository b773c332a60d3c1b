package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/portside-dev/portside/internal/cache"
	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
)

// statusCacheTTL absorbs status polling: UIs refresh every second or two,
// and computing a worktree status is the expensive part.
const statusCacheTTL = 2 * time.Second

const diffContextLines = 3

// RepoOpener resolves a repository path to an open go-git repository. The
// default opener walks up to the enclosing .git; tests substitute in-memory
// repositories.
type RepoOpener func(path string) (*gogit.Repository, error)

// GitService answers status, per-file diff, and the stage/unstage/discard/
// commit operations on repositories under the files root. All repository
// access goes through go-git; nothing shells out.
type GitService struct {
	files       *FilesService
	statusCache *cache.LRU
	open        RepoOpener
	log         zerolog.Logger
}

// NewGitService creates a git service over the files root. statusCache may
// be shared with other read-heavy services.
func NewGitService(files *FilesService, statusCache *cache.LRU) *GitService {
	return NewGitServiceWithOpener(files, statusCache, nil)
}

// NewGitServiceWithOpener creates a git service with a custom repository
// opener. A nil opener gets the on-disk default.
func NewGitServiceWithOpener(files *FilesService, statusCache *cache.LRU, opener RepoOpener) *GitService {
	s := &GitService{
		files:       files,
		statusCache: statusCache,
		open:        opener,
		log:         logger.WithComponent("git"),
	}
	if s.open == nil {
		s.open = func(path string) (*gogit.Repository, error) {
			return gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
		}
	}
	return s
}

func (s *GitService) openRepo(path string) (*gogit.Repository, error) {
	abs, err := s.files.resolve(path)
	if err != nil {
		return nil, err
	}
	repo, err := s.open(abs)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("no git repository at %q", path)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

func (s *GitService) statusKey(path string) string {
	abs, err := s.files.resolve(path)
	if err != nil {
		abs = path
	}
	return "status:" + abs
}

// Status returns branch, cleanliness and changed files for the repository
// at path. Responses are cached briefly per repository.
func (s *GitService) Status(path string) (*models.GitStatus, error) {
	key := s.statusKey(path)
	if s.statusCache != nil {
		if cached, ok := s.statusCache.Get(key); ok {
			return cached.(*models.GitStatus), nil
		}
	}

	repo, err := s.openRepo(path)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to compute status: %w", err)
	}

	result := &models.GitStatus{
		Branch:  branchName(repo),
		IsClean: status.IsClean(),
		Files:   make([]models.GitFileStat, 0, len(status)),
	}
	for file, fs := range status {
		if fs.Staging == gogit.Unmodified && fs.Worktree == gogit.Unmodified {
			continue
		}
		result.Files = append(result.Files, models.GitFileStat{
			Path:     file,
			Staging:  string(rune(fs.Staging)),
			Worktree: string(rune(fs.Worktree)),
		})
	}
	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})

	if s.statusCache != nil {
		s.statusCache.SetWithTTL(key, result, statusCacheTTL)
	}
	return result, nil
}

// branchName reports the short branch name, a shortened hash when HEAD is
// detached, or the unborn branch target in a repository with no commits.
func branchName(repo *gogit.Repository) string {
	head, err := repo.Head()
	if err == nil {
		if head.Name().IsBranch() {
			return head.Name().Short()
		}
		return head.Hash().String()[:7]
	}
	if ref, rerr := repo.Storer.Reference(plumbing.HEAD); rerr == nil && ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short()
	}
	return ""
}

// Stage adds one file (or its deletion) to the index.
func (s *GitService) Stage(path, file string) error {
	wt, err := s.worktree(path)
	if err != nil {
		return err
	}
	if _, err := wt.Add(file); err != nil {
		return fmt.Errorf("failed to stage %q: %w", file, err)
	}
	s.invalidateStatus(path)
	return nil
}

// Unstage resets one file's index entry back to HEAD.
func (s *GitService) Unstage(path, file string) error {
	wt, err := s.worktree(path)
	if err != nil {
		return err
	}
	if err := wt.Restore(&gogit.RestoreOptions{Staged: true, Files: []string{file}}); err != nil {
		return fmt.Errorf("failed to unstage %q: %w", file, err)
	}
	s.invalidateStatus(path)
	return nil
}

// Discard rewrites one tracked file's worktree content from the index,
// dropping local modifications. Untracked files are refused; deleting a
// user's only copy is not a git operation.
func (s *GitService) Discard(path, file string) error {
	repo, err := s.openRepo(path)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	entry, err := idx.Entry(file)
	if err != nil {
		if errors.Is(err, index.ErrEntryNotFound) {
			return fmt.Errorf("%q is not tracked", file)
		}
		return fmt.Errorf("failed to look up %q in index: %w", file, err)
	}

	blob, err := object.GetBlob(repo.Storer, entry.Hash)
	if err != nil {
		return fmt.Errorf("failed to load blob for %q: %w", file, err)
	}
	rdr, err := blob.Reader()
	if err != nil {
		return fmt.Errorf("failed to read blob for %q: %w", file, err)
	}
	defer rdr.Close()
	content, err := io.ReadAll(rdr)
	if err != nil {
		return fmt.Errorf("failed to read blob for %q: %w", file, err)
	}

	mode, err := entry.Mode.ToOSFileMode()
	if err != nil {
		mode = 0o644
	}
	if err := util.WriteFile(wt.Filesystem, file, content, mode); err != nil {
		return fmt.Errorf("failed to restore %q: %w", file, err)
	}
	s.invalidateStatus(path)
	return nil
}

// Commit commits the staged changes. Nothing staged is an error, matching
// git's own refusal of empty commits.
func (s *GitService) Commit(path, message string) (*models.GitCommitResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("empty commit message")
	}

	repo, err := s.openRepo(path)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: commitSignature(repo),
	})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return nil, fmt.Errorf("nothing staged to commit")
		}
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	s.invalidateStatus(path)
	s.log.Info().Str("repo", path).Str("hash", hash.String()[:7]).Msg("commit created")
	return &models.GitCommitResult{
		Hash:    hash.String(),
		Message: message,
	}, nil
}

// commitSignature builds the author from repository/global config, falling
// back to a fixed identity so headless hosts can still commit.
func commitSignature(repo *gogit.Repository) *object.Signature {
	name, email := "portside", "portside@localhost"
	if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// FileDiff produces the unified diff of one file. staged=false compares the
// index against the worktree; staged=true compares HEAD against the index.
func (s *GitService) FileDiff(path, file string, staged bool) (*models.GitDiff, error) {
	if file == "" {
		return nil, fmt.Errorf("empty file path")
	}

	repo, err := s.openRepo(path)
	if err != nil {
		return nil, err
	}

	var oldContent, newContent string
	var oldOK, newOK bool
	if staged {
		oldContent, oldOK, err = headContent(repo, file)
		if err != nil {
			return nil, err
		}
		newContent, newOK, err = indexContent(repo, file)
		if err != nil {
			return nil, err
		}
	} else {
		oldContent, oldOK, err = indexContent(repo, file)
		if err != nil {
			return nil, err
		}
		newContent, newOK, err = worktreeContent(repo, file)
		if err != nil {
			return nil, err
		}
	}
	if !oldOK && !newOK {
		return nil, fmt.Errorf("no diff source for %q", file)
	}

	diff := &models.GitDiff{File: file, Staged: staged}

	if looksBinary(oldContent) || looksBinary(newContent) {
		diff.Binary = true
		return diff, nil
	}
	if oldContent == newContent {
		return diff, nil
	}

	// An absent or empty side diffs as no lines at all, not as one
	// phantom blank line.
	var aLines, bLines []string
	if oldContent != "" {
		aLines = difflib.SplitLines(oldContent)
	}
	if newContent != "" {
		bLines = difflib.SplitLines(newContent)
	}
	patch, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        aLines,
		B:        bLines,
		FromFile: "a/" + file,
		ToFile:   "b/" + file,
		Context:  diffContextLines,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build diff for %q: %w", file, err)
	}
	diff.Patch = patch
	return diff, nil
}

func (s *GitService) worktree(path string) (*gogit.Worktree, error) {
	repo, err := s.openRepo(path)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	return wt, nil
}

func (s *GitService) invalidateStatus(path string) {
	if s.statusCache != nil {
		s.statusCache.Delete(s.statusKey(path))
	}
}

// headContent returns the file's content in the HEAD commit. ok is false
// when HEAD has no commits or the file is absent from the tree.
func headContent(repo *gogit.Repository, file string) (string, bool, error) {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", false, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	f, err := commit.File(file)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %q from HEAD: %w", file, err)
	}
	content, err := f.Contents()
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q from HEAD: %w", file, err)
	}
	return content, true, nil
}

// indexContent returns the file's staged content. ok is false when the file
// has no index entry.
func indexContent(repo *gogit.Repository, file string) (string, bool, error) {
	idx, err := repo.Storer.Index()
	if err != nil {
		return "", false, fmt.Errorf("failed to read index: %w", err)
	}
	entry, err := idx.Entry(file)
	if err != nil {
		if errors.Is(err, index.ErrEntryNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up %q in index: %w", file, err)
	}
	blob, err := object.GetBlob(repo.Storer, entry.Hash)
	if err != nil {
		return "", false, fmt.Errorf("failed to load blob for %q: %w", file, err)
	}
	rdr, err := blob.Reader()
	if err != nil {
		return "", false, fmt.Errorf("failed to read blob for %q: %w", file, err)
	}
	defer rdr.Close()
	content, err := io.ReadAll(rdr)
	if err != nil {
		return "", false, fmt.Errorf("failed to read blob for %q: %w", file, err)
	}
	return string(content), true, nil
}

// worktreeContent returns the file's on-disk content. ok is false when the
// file does not exist in the worktree.
func worktreeContent(repo *gogit.Repository, file string) (string, bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", false, fmt.Errorf("failed to open worktree: %w", err)
	}
	content, err := util.ReadFile(wt.Filesystem, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %q: %w", file, err)
	}
	return string(content), true, nil
}

func looksBinary(content string) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	return strings.IndexByte(content[:limit], 0) >= 0
}
