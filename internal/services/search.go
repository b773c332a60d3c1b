package services

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/portside-dev/portside/internal/models"
)

const (
	defaultMaxResults = 200
	hardMaxResults    = 2000
	// Files larger than this are skipped outright; interactive search is
	// for source trees, not archives.
	maxSearchFileSize = 2 << 20 // 2 MiB
	binarySniffLen    = 8000
	maxMatchLineLen   = 500
)

// Directories nobody wants grepped.
var prunedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
}

// SearchService scans regular files under the files root for matching
// lines. It shares the root confinement rules with FilesService.
type SearchService struct {
	files *FilesService
}

// NewSearchService creates a search service over the same root as files.
func NewSearchService(files *FilesService) *SearchService {
	return &SearchService{files: files}
}

type matcher func(line string) int

// Search walks the tree under path and returns up to opts.MaxResults
// matching lines. The bool result reports truncation.
func (s *SearchService) Search(query, path string, opts models.SearchOptions) ([]models.SearchMatch, bool, error) {
	if query == "" {
		return nil, false, fmt.Errorf("empty search query")
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > hardMaxResults {
		maxResults = hardMaxResults
	}

	match, err := buildMatcher(query, opts)
	if err != nil {
		return nil, false, err
	}

	var include glob.Glob
	if opts.Include != "" {
		include, err = glob.Compile(opts.Include, '/')
		if err != nil {
			return nil, false, fmt.Errorf("invalid include pattern %q: %v", opts.Include, err)
		}
	}

	abs, err := s.files.resolve(path)
	if err != nil {
		return nil, false, err
	}

	matches := make([]models.SearchMatch, 0, 32)
	truncated := false

	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if prunedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel := s.files.relative(p)
		if include != nil && !include.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		done, err := s.searchFile(p, rel, match, maxResults, &matches)
		if err != nil {
			return nil
		}
		if done {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("search walk failed: %w", err)
	}

	return matches, truncated, nil
}

// searchFile scans one file line by line. Returns true once the global
// result cap is reached.
func (s *SearchService) searchFile(abs, rel string, match matcher, maxResults int, out *[]models.SearchMatch) (bool, error) {
	f, err := os.Open(abs)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// Binary sniff: any NUL in the first chunk disqualifies the file.
	sniff := make([]byte, binarySniffLen)
	n, _ := io.ReadFull(f, sniff)
	if bytes.IndexByte(sniff[:n], 0) >= 0 {
		return false, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		col := match(line)
		if col < 0 {
			continue
		}
		text := line
		if len(text) > maxMatchLineLen {
			text = text[:maxMatchLineLen]
		}
		*out = append(*out, models.SearchMatch{
			File:   rel,
			Line:   lineNo,
			Column: col + 1,
			Text:   text,
		})
		if len(*out) >= maxResults {
			return true, nil
		}
	}
	return false, nil
}

func buildMatcher(query string, opts models.SearchOptions) (matcher, error) {
	if opts.Regex {
		pattern := query
		if opts.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %v", query, err)
		}
		return func(line string) int {
			loc := re.FindStringIndex(line)
			if loc == nil {
				return -1
			}
			return loc[0]
		}, nil
	}

	if opts.CaseInsensitive {
		lowered := strings.ToLower(query)
		return func(line string) int {
			return strings.Index(strings.ToLower(line), lowered)
		}, nil
	}
	return func(line string) int {
		return strings.Index(line, query)
	}, nil
}
