package caching

import (
	"sync"
	"sync/atomic"

	"github.com/lexcodex/codeengine/framework"
)

// TypeCache is the in-memory index of projects, files, code references and
// signature references. Each collection has its own lock. Operations that
// touch more than one collection always lock files, then code references,
// then signatures.
type TypeCache struct {
	projectsMu sync.Mutex
	projects   []*framework.Project
	byProject  map[string]*framework.Project

	filesMu sync.Mutex
	files   []*framework.ProjectFile
	byFile  map[string]*framework.ProjectFile

	referencesMu sync.Mutex
	references   []framework.CodeReference
	referenceSet map[framework.CodeReferenceKey]struct{}

	signaturesMu sync.Mutex
	signatures   []framework.SignatureReference

	version atomic.Uint64
}

var _ framework.TypeCache = (*TypeCache)(nil)

// NewTypeCache returns an empty index.
func NewTypeCache() *TypeCache {
	return &TypeCache{
		byProject:    make(map[string]*framework.Project),
		byFile:       make(map[string]*framework.ProjectFile),
		referenceSet: make(map[framework.CodeReferenceKey]struct{}),
	}
}

// Version increases on every mutation. Callers use it to invalidate cached
// query results.
func (c *TypeCache) Version() uint64 {
	return c.version.Load()
}

func (c *TypeCache) touch() {
	c.version.Add(1)
}

// ProjectCount returns the number of known projects.
func (c *TypeCache) ProjectCount() int {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()
	return len(c.projects)
}

// FileCount returns the number of files visible to file search.
func (c *TypeCache) FileCount() int {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	count := 0
	for _, f := range c.files {
		if f.FileSearch {
			count++
		}
	}
	return count
}

// CodeReferenceCount returns the number of references visible to type search.
func (c *TypeCache) CodeReferenceCount() int {
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	count := 0
	for _, r := range c.references {
		if r.TypeSearch {
			count++
		}
	}
	return count
}

// AllProjects returns a snapshot of every project.
func (c *TypeCache) AllProjects() []framework.Project {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()
	out := make([]framework.Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, *p)
	}
	return out
}

// AllFiles returns a snapshot of every file.
func (c *TypeCache) AllFiles() []framework.ProjectFile {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	out := make([]framework.ProjectFile, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, *f)
	}
	return out
}

// AllReferences returns a snapshot of every code reference.
func (c *TypeCache) AllReferences() []framework.CodeReference {
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	return append([]framework.CodeReference(nil), c.references...)
}

// AllSignatures returns a snapshot of every signature reference.
func (c *TypeCache) AllSignatures() []framework.SignatureReference {
	c.signaturesMu.Lock()
	defer c.signaturesMu.Unlock()
	return append([]framework.SignatureReference(nil), c.signatures...)
}

// ProjectExists reports whether a project with the same path is known.
func (c *TypeCache) ProjectExists(project framework.Project) bool {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()
	_, ok := c.byProject[project.File]
	return ok
}

// AddProject inserts the project or updates the existing one in place.
func (c *TypeCache) AddProject(project framework.Project) {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()
	defer c.touch()
	if existing, ok := c.byProject[project.File]; ok {
		existing.Update(project.JSON, project.FileSearch)
		return
	}
	p := project
	c.projects = append(c.projects, &p)
	c.byProject[p.File] = &p
}

// GetProject looks up a project by path.
func (c *TypeCache) GetProject(path string) (framework.Project, bool) {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()
	p, ok := c.byProject[path]
	if !ok {
		return framework.Project{}, false
	}
	return *p, true
}

// FileExists reports whether a file with that path is known.
func (c *TypeCache) FileExists(path string) bool {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	_, ok := c.byFile[path]
	return ok
}

// AddFile inserts the file or updates the existing one in place.
func (c *TypeCache) AddFile(file framework.ProjectFile) {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	defer c.touch()
	if existing, ok := c.byFile[file.File]; ok {
		existing.Update(file.Project, file.FileSearch)
		return
	}
	f := file
	c.files = append(c.files, &f)
	c.byFile[f.File] = &f
}

// Invalidate drops state for path. When path names a project, only the files
// owned by that project are removed and their references stay in place.
// Otherwise the file and every code and signature reference keyed to it are
// removed.
func (c *TypeCache) Invalidate(path string) {
	if _, isProject := c.GetProject(path); isProject {
		c.filesMu.Lock()
		c.removeFilesLocked(func(f *framework.ProjectFile) bool {
			return f.Project != "" && f.Project == path
		})
		c.filesMu.Unlock()
		c.touch()
		return
	}

	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	c.signaturesMu.Lock()
	defer c.signaturesMu.Unlock()

	c.removeFilesLocked(func(f *framework.ProjectFile) bool { return f.File == path })

	kept := c.references[:0]
	for _, r := range c.references {
		if r.File == path {
			delete(c.referenceSet, r.Key())
			continue
		}
		kept = append(kept, r)
	}
	clear(c.references[len(kept):])
	c.references = kept

	keptSigs := c.signatures[:0]
	for _, s := range c.signatures {
		if s.File != path {
			keptSigs = append(keptSigs, s)
		}
	}
	clear(c.signatures[len(keptSigs):])
	c.signatures = keptSigs
	c.touch()
}

func (c *TypeCache) removeFilesLocked(match func(*framework.ProjectFile) bool) {
	kept := c.files[:0]
	for _, f := range c.files {
		if match(f) {
			delete(c.byFile, f.File)
			continue
		}
		kept = append(kept, f)
	}
	clear(c.files[len(kept):])
	c.files = kept
}

// AddReference stores the reference unless a structurally equal one exists.
func (c *TypeCache) AddReference(reference framework.CodeReference) {
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	c.addReferenceLocked(reference)
}

// AddReferences stores a batch under a single lock.
func (c *TypeCache) AddReferences(references []framework.CodeReference) {
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	for _, r := range references {
		c.addReferenceLocked(r)
	}
}

func (c *TypeCache) addReferenceLocked(reference framework.CodeReference) {
	key := reference.Key()
	if _, ok := c.referenceSet[key]; ok {
		return
	}
	c.referenceSet[key] = struct{}{}
	c.references = append(c.references, reference)
	c.touch()
}

// AddSignature appends a signature reference. Signatures are never deduplicated.
func (c *TypeCache) AddSignature(signature framework.SignatureReference) {
	c.signaturesMu.Lock()
	defer c.signaturesMu.Unlock()
	c.signatures = append(c.signatures, signature)
	c.touch()
}

// Find returns every type-searchable reference matching query, ranked.
func (c *TypeCache) Find(query string) []framework.CodeReference {
	return c.find(query)
}

// FindLimit returns at most limit ranked matches. A limit <= 0 yields none;
// callers pick their own default.
func (c *TypeCache) FindLimit(query string, limit int) []framework.CodeReference {
	if limit <= 0 {
		return []framework.CodeReference{}
	}
	matches := c.find(query)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (c *TypeCache) find(query string) []framework.CodeReference {
	tokens := Tokenize(query)
	c.referencesMu.Lock()
	defer c.referencesMu.Unlock()
	matches := make([]framework.CodeReference, 0)
	for _, r := range c.references {
		if !r.TypeSearch {
			continue
		}
		if Matches(r.File, r.Signature, tokens) {
			matches = append(matches, r)
		}
	}
	SearchSorter{Tokens: tokens}.Sort(matches)
	return matches
}

// FindFiles fuzzy-matches query against searchable file and project paths.
func (c *TypeCache) FindFiles(query string) []framework.FileFindResult {
	return NewFileFinder(c.AllFiles(), c.AllProjects()).Find(query)
}

// FilesInDirectory lists the direct children of directory.
func (c *TypeCache) FilesInDirectory(directory string) []framework.FileFindResult {
	return NewHierarchyBuilder(c.AllFiles(), c.AllProjects()).NextStep(directory)
}

// FilesInProject lists the top level of a project. Unknown projects yield an
// empty list.
func (c *TypeCache) FilesInProject(project string) []framework.FileFindResult {
	p, ok := c.GetProject(project)
	if !ok {
		return []framework.FileFindResult{}
	}
	return NewHierarchyBuilder(c.AllFiles(), c.AllProjects()).NextStepInProject(p, "")
}

// FilesInProjectPath lists the children of path inside project.
func (c *TypeCache) FilesInProjectPath(project, path string) []framework.FileFindResult {
	p, ok := c.GetProject(project)
	if !ok {
		return []framework.FileFindResult{}
	}
	return NewHierarchyBuilder(c.AllFiles(), c.AllProjects()).NextStepInProject(p, path)
}
