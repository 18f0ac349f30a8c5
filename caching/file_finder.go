package caching

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/lexcodex/codeengine/framework"
)

// FileFinder fuzzy-matches a query against the paths of searchable files and
// projects.
type FileFinder struct {
	entries []framework.FileFindResult
}

// NewFileFinder builds a finder over snapshots of files and projects. Entries
// without the FileSearch flag are skipped.
func NewFileFinder(files []framework.ProjectFile, projects []framework.Project) *FileFinder {
	entries := make([]framework.FileFindResult, 0, len(files)+len(projects))
	for _, p := range projects {
		if !p.FileSearch {
			continue
		}
		entries = append(entries, framework.FileFindResult{
			Type:        framework.FileFindProject,
			File:        p.File,
			DisplayName: filepath.Base(p.File),
		})
	}
	for _, f := range files {
		if !f.FileSearch {
			continue
		}
		entries = append(entries, framework.FileFindResult{
			Type:        framework.FileFindFile,
			File:        f.File,
			DisplayName: filepath.Base(f.File),
		})
	}
	return &FileFinder{entries: entries}
}

// String implements fuzzy.Source.
func (f *FileFinder) String(i int) string { return f.entries[i].File }

// Len implements fuzzy.Source.
func (f *FileFinder) Len() int { return len(f.entries) }

// Find returns matches best score first, ties broken by path.
func (f *FileFinder) Find(query string) []framework.FileFindResult {
	query = strings.TrimSpace(query)
	results := make([]framework.FileFindResult, 0)
	if query == "" {
		return results
	}
	matches := fuzzy.FindFromNoSort(query, f)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Str < matches[j].Str
	})
	for _, m := range matches {
		results = append(results, f.entries[m.Index])
	}
	return results
}
