package framework

import "strings"

// ReferenceKind is the free-form type tag a crawler attaches to a symbol
// ("class", "interface", "method", ...).
type ReferenceKind string

const (
	KindClass     ReferenceKind = "class"
	KindInterface ReferenceKind = "interface"
	KindStruct    ReferenceKind = "struct"
	KindEnum      ReferenceKind = "enum"
	KindMethod    ReferenceKind = "method"
	KindFunction  ReferenceKind = "function"
	KindField     ReferenceKind = "field"
	KindProperty  ReferenceKind = "property"
	KindVariable  ReferenceKind = "variable"
	KindConstant  ReferenceKind = "constant"
	KindNamespace ReferenceKind = "namespace"
)

// Normalize lowercases and trims the tag.
func (k ReferenceKind) Normalize() ReferenceKind {
	return ReferenceKind(strings.ToLower(strings.TrimSpace(string(k))))
}

// Project is a top-level source unit tracked by its absolute path.
type Project struct {
	File       string `json:"file"`
	JSON       string `json:"json,omitempty"`
	FileSearch bool   `json:"fileSearch"`
}

// NewProject returns a project with no metadata and file search disabled.
func NewProject(file string) Project {
	return Project{File: file}
}

// Update replaces the mutable attributes of an existing project.
func (p *Project) Update(json string, fileSearch bool) {
	p.JSON = json
	p.FileSearch = fileSearch
}

// ProjectFile is a source file, optionally owned by a project. An empty
// Project marks a floating file.
type ProjectFile struct {
	File       string `json:"file"`
	Project    string `json:"project,omitempty"`
	FileSearch bool   `json:"fileSearch"`
}

// NewProjectFile binds file to project.
func NewProjectFile(file, project string) ProjectFile {
	return ProjectFile{File: file, Project: project}
}

// Update replaces the mutable attributes of an existing file.
func (f *ProjectFile) Update(project string, fileSearch bool) {
	f.Project = project
	f.FileSearch = fileSearch
}

// CodeReference is one indexed symbol declaration.
type CodeReference struct {
	Type       ReferenceKind `json:"type"`
	File       string        `json:"file"`
	Signature  string        `json:"signature"`
	Name       string        `json:"name"`
	Line       int           `json:"line"`
	Column     int           `json:"column"`
	Length     int           `json:"length"`
	TypeSearch bool          `json:"typeSearch"`
}

// Is reports structural equality over the identifying fields. TypeSearch is
// not part of the identity.
func (r CodeReference) Is(other CodeReference) bool {
	return r.Key() == other.Key()
}

// Key returns the dedup key of the reference.
func (r CodeReference) Key() CodeReferenceKey {
	return CodeReferenceKey{
		Type:      r.Type,
		Name:      r.Name,
		Signature: r.Signature,
		File:      r.File,
		Line:      r.Line,
		Column:    r.Column,
		Length:    r.Length,
	}
}

// CodeReferenceKey is the comparable identity of a CodeReference.
type CodeReferenceKey struct {
	Type      ReferenceKind
	Name      string
	Signature string
	File      string
	Line      int
	Column    int
	Length    int
}

// SignatureReference is a usage or call site pointing at a signature.
type SignatureReference struct {
	File   string `json:"file"`
	Name   string `json:"name"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Length int    `json:"length"`
}

// FileFindType classifies a file search hit.
type FileFindType string

const (
	FileFindProject   FileFindType = "project"
	FileFindDirectory FileFindType = "directory"
	FileFindFile      FileFindType = "file"
)

// FileFindResult is one entry returned by file search and hierarchy views.
type FileFindResult struct {
	Type        FileFindType `json:"type"`
	File        string       `json:"file"`
	DisplayName string       `json:"displayName"`
}

// CrawlResult is the write side of the type cache; the crawl decoder only
// needs this.
type CrawlResult interface {
	AddProject(project Project)
	AddFile(file ProjectFile)
	AddReference(reference CodeReference)
	AddReferences(references []CodeReference)
	AddSignature(signature SignatureReference)
	Invalidate(path string)
}

// TypeCache is the full index contract shared by handlers and query callers.
type TypeCache interface {
	CrawlResult

	ProjectExists(project Project) bool
	GetProject(path string) (Project, bool)
	FileExists(path string) bool

	ProjectCount() int
	FileCount() int
	CodeReferenceCount() int
	Version() uint64

	AllProjects() []Project
	AllFiles() []ProjectFile
	AllReferences() []CodeReference
	AllSignatures() []SignatureReference

	Find(query string) []CodeReference
	FindLimit(query string, limit int) []CodeReference
	FindFiles(query string) []FileFindResult
	FilesInDirectory(directory string) []FileFindResult
	FilesInProject(project string) []FileFindResult
	FilesInProjectPath(project, path string) []FileFindResult
}
