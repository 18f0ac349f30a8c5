package caching

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexcodex/codeengine/framework"
)

// HierarchyBuilder produces one level of a directory tree from flat file
// snapshots.
type HierarchyBuilder struct {
	files    []framework.ProjectFile
	projects []framework.Project
}

// NewHierarchyBuilder wraps snapshots of files and projects.
func NewHierarchyBuilder(files []framework.ProjectFile, projects []framework.Project) *HierarchyBuilder {
	return &HierarchyBuilder{files: files, projects: projects}
}

// NextStep lists the direct children of directory among searchable files and
// projects.
func (h *HierarchyBuilder) NextStep(directory string) []framework.FileFindResult {
	var candidates []framework.FileFindResult
	for _, p := range h.projects {
		if p.FileSearch {
			candidates = append(candidates, framework.FileFindResult{Type: framework.FileFindProject, File: p.File})
		}
	}
	for _, f := range h.files {
		if f.FileSearch {
			candidates = append(candidates, framework.FileFindResult{Type: framework.FileFindFile, File: f.File})
		}
	}
	return nextLevel(directory, candidates)
}

// NextStepInProject lists the children of subpath, or of the project's own
// directory when subpath is empty, among searchable files owned by project.
func (h *HierarchyBuilder) NextStepInProject(project framework.Project, subpath string) []framework.FileFindResult {
	root := subpath
	if root == "" {
		root = filepath.Dir(project.File)
	}
	var candidates []framework.FileFindResult
	for _, f := range h.files {
		if f.FileSearch && f.Project == project.File {
			candidates = append(candidates, framework.FileFindResult{Type: framework.FileFindFile, File: f.File})
		}
	}
	return nextLevel(root, candidates)
}

func nextLevel(directory string, candidates []framework.FileFindResult) []framework.FileFindResult {
	prefix := filepath.Clean(directory)
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	seenDirs := make(map[string]bool)
	var dirs, leaves []framework.FileFindResult
	for _, c := range candidates {
		if !strings.HasPrefix(c.File, prefix) {
			continue
		}
		rest := c.File[len(prefix):]
		if rest == "" {
			continue
		}
		if idx := strings.IndexRune(rest, filepath.Separator); idx >= 0 {
			name := rest[:idx]
			if seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			dirs = append(dirs, framework.FileFindResult{
				Type:        framework.FileFindDirectory,
				File:        prefix + name,
				DisplayName: name,
			})
			continue
		}
		c.DisplayName = rest
		leaves = append(leaves, c)
	}
	byName := func(list []framework.FileFindResult) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].DisplayName < list[j].DisplayName })
	}
	byName(dirs)
	byName(leaves)
	return append(append(make([]framework.FileFindResult, 0, len(dirs)+len(leaves)), dirs...), leaves...)
}
