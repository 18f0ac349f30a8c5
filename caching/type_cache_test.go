package caching

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeengine/framework"
)

func ref(file, kind, name, signature string, line int, typeSearch bool) framework.CodeReference {
	return framework.CodeReference{
		Type:       framework.ReferenceKind(kind),
		File:       file,
		Name:       name,
		Signature:  signature,
		Line:       line,
		Column:     0,
		Length:     10,
		TypeSearch: typeSearch,
	}
}

func TestAddProjectUpsertsInPlace(t *testing.T) {
	cache := NewTypeCache()
	cache.AddProject(framework.Project{File: "/p/a.proj", JSON: `{"v":1}`})
	cache.AddProject(framework.Project{File: "/p/a.proj", JSON: `{"v":2}`, FileSearch: true})

	require.Equal(t, 1, cache.ProjectCount())
	p, ok := cache.GetProject("/p/a.proj")
	require.True(t, ok)
	assert.Equal(t, `{"v":2}`, p.JSON)
	assert.True(t, p.FileSearch)
	assert.True(t, cache.ProjectExists(framework.NewProject("/p/a.proj")))
	assert.False(t, cache.ProjectExists(framework.NewProject("/p/b.proj")))
}

func TestGetProjectMissIsNotAnError(t *testing.T) {
	cache := NewTypeCache()
	_, ok := cache.GetProject("/nope")
	assert.False(t, ok)
	assert.Empty(t, cache.FilesInProject("/nope"))
	assert.Empty(t, cache.Find("anything"))
}

func TestAddFileUpsertsInPlace(t *testing.T) {
	cache := NewTypeCache()
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", Project: "/p/a.proj"})
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", Project: "/p/b.proj", FileSearch: true})

	files := cache.AllFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "/p/b.proj", files[0].Project)
	assert.True(t, files[0].FileSearch)
	assert.True(t, cache.FileExists("/p/a.cs"))
	assert.False(t, cache.FileExists("/p/other.cs"))
}

func TestCountsOnlyIncludeSearchVisibleEntities(t *testing.T) {
	cache := NewTypeCache()
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", FileSearch: true})
	cache.AddFile(framework.ProjectFile{File: "/p/b.cs"})
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	cache.AddReference(ref("/p/a.cs", "class", "Bar", "class Bar", 2, false))

	assert.Equal(t, 1, cache.FileCount())
	assert.Len(t, cache.AllFiles(), 2)
	assert.Equal(t, 1, cache.CodeReferenceCount())
	assert.Len(t, cache.AllReferences(), 2)
}

func TestAddReferenceDeduplicatesStructurallyEqualReferences(t *testing.T) {
	cache := NewTypeCache()
	r := ref("/p/a.cs", "class", "Foo", "class Foo", 1, true)
	cache.AddReference(r)
	cache.AddReference(r)
	cache.AddReferences([]framework.CodeReference{r, ref("/p/a.cs", "class", "Foo", "class Foo", 2, true)})

	assert.Len(t, cache.AllReferences(), 2)
}

func TestAddSignatureKeepsDuplicates(t *testing.T) {
	cache := NewTypeCache()
	sig := framework.SignatureReference{File: "/p/a.cs", Name: "Foo", Line: 3, Column: 4, Length: 3}
	cache.AddSignature(sig)
	cache.AddSignature(framework.SignatureReference{File: "/p/a.cs", Name: "Bar", Line: 3, Column: 4, Length: 3})
	cache.AddSignature(sig)

	assert.Len(t, cache.AllSignatures(), 3)
}

func TestInvalidateFileRemovesFileAndItsReferences(t *testing.T) {
	cache := NewTypeCache()
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", FileSearch: true})
	cache.AddFile(framework.ProjectFile{File: "/p/b.cs", FileSearch: true})
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	cache.AddReference(ref("/p/b.cs", "class", "Bar", "class Bar", 1, true))
	cache.AddSignature(framework.SignatureReference{File: "/p/a.cs", Name: "Foo"})
	cache.AddSignature(framework.SignatureReference{File: "/p/b.cs", Name: "Bar"})

	cache.Invalidate("/p/a.cs")

	assert.False(t, cache.FileExists("/p/a.cs"))
	assert.True(t, cache.FileExists("/p/b.cs"))
	refs := cache.AllReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, "/p/b.cs", refs[0].File)
	sigs := cache.AllSignatures()
	require.Len(t, sigs, 1)
	assert.Equal(t, "/p/b.cs", sigs[0].File)

	// A re-added reference is accepted again once its file was invalidated.
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	assert.Len(t, cache.AllReferences(), 2)
}

func TestInvalidateProjectRemovesOnlyItsFiles(t *testing.T) {
	cache := NewTypeCache()
	cache.AddProject(framework.Project{File: "/p/a.proj"})
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", Project: "/p/a.proj"})
	cache.AddFile(framework.ProjectFile{File: "/p/b.cs", Project: "/p/a.proj"})
	cache.AddFile(framework.ProjectFile{File: "/q/c.cs", Project: "/q/c.proj"})
	cache.AddFile(framework.ProjectFile{File: "/floating.cs"})
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	cache.AddSignature(framework.SignatureReference{File: "/p/a.cs", Name: "Foo"})

	cache.Invalidate("/p/a.proj")

	assert.False(t, cache.FileExists("/p/a.cs"))
	assert.False(t, cache.FileExists("/p/b.cs"))
	assert.True(t, cache.FileExists("/q/c.cs"))
	assert.True(t, cache.FileExists("/floating.cs"))
	// Project invalidation leaves references behind.
	assert.Len(t, cache.AllReferences(), 1)
	assert.Len(t, cache.AllSignatures(), 1)
	assert.Equal(t, 1, cache.ProjectCount())
}

func TestFindRequiresNonDecreasingTokenPositions(t *testing.T) {
	cache := NewTypeCache()
	cache.AddReference(ref("foo/bar.cs", "class", "Bar", "signatureOfBar", 1, true))

	assert.Len(t, cache.Find("foo bar"), 1)
	assert.Empty(t, cache.Find("bar foo"))
	assert.Len(t, cache.Find("FOO"), 1)
	assert.Empty(t, cache.Find("foo missing"))
}

func TestMatchesUsesLastOccurrence(t *testing.T) {
	// "bar" last occurs inside the signature, after "sig".
	assert.True(t, Matches("foo/bar.cs", "signatureOfBar", []string{"sig", "bar"}))
	assert.True(t, Matches("foo/bar.cs", "signatureOfBar", []string{"bar", "bar"}))
	// "cs" occurs only in the file part, before the last "bar".
	assert.False(t, Matches("foo/bar.cs", "signatureOfBar", []string{"bar", "cs"}))
	assert.True(t, Matches("foo/bar.cs", "signatureOfBar", nil))
}

func TestFindSkipsReferencesWithoutTypeSearch(t *testing.T) {
	cache := NewTypeCache()
	cache.AddReference(ref("/p/a.cs", "class", "Hidden", "class Hidden", 1, false))

	assert.Empty(t, cache.Find("Hidden"))
	assert.Empty(t, cache.Find(""))
}

func TestFindRanksExactNameFirst(t *testing.T) {
	cache := NewTypeCache()
	cache.AddReference(ref("/p/z.cs", "class", "FooBar", "class FooBar", 1, true))
	cache.AddReference(ref("/p/y.cs", "class", "MyFoo", "class MyFoo", 1, true))
	cache.AddReference(ref("/p/x.cs", "class", "Foo", "public sealed class Foo", 1, true))
	cache.AddReference(ref("/p/w.cs", "method", "Run", "void Run(Foo f)", 1, true))

	results := cache.Find("foo")
	require.Len(t, results, 4)
	names := []string{results[0].Name, results[1].Name, results[2].Name, results[3].Name}
	assert.Equal(t, []string{"Foo", "FooBar", "MyFoo", "Run"}, names)
}

func TestFindRankTieBreaks(t *testing.T) {
	cache := NewTypeCache()
	cache.AddReference(ref("/p/b.cs", "class", "Foo", "class Foo", 1, true))
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 9, true))
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 3, true))
	cache.AddReference(ref("/p/c.cs", "class", "Foo", "class Foo : Base", 1, true))

	results := cache.Find("Foo")
	require.Len(t, results, 4)
	assert.Equal(t, "/p/a.cs", results[0].File)
	assert.Equal(t, 3, results[0].Line)
	assert.Equal(t, "/p/a.cs", results[1].File)
	assert.Equal(t, 9, results[1].Line)
	assert.Equal(t, "/p/b.cs", results[2].File)
	assert.Equal(t, "/p/c.cs", results[3].File)
}

func TestFindLimitReturnsPrefix(t *testing.T) {
	cache := NewTypeCache()
	for i := 0; i < 10; i++ {
		cache.AddReference(ref(fmt.Sprintf("/p/f%02d.cs", i), "class", fmt.Sprintf("Type%d", i), fmt.Sprintf("class Type%d", i), 1, true))
	}
	all := cache.Find("type")
	require.Len(t, all, 10)
	assert.Equal(t, all[:3], cache.FindLimit("type", 3))
	assert.Equal(t, all, cache.FindLimit("type", 50))
	assert.Empty(t, cache.FindLimit("type", 0))
	assert.Empty(t, cache.FindLimit("type", -1))
	assert.NotNil(t, cache.FindLimit("type", 0))
}

func TestSnapshotsAreIndependentOfLaterMutation(t *testing.T) {
	cache := NewTypeCache()
	cache.AddProject(framework.Project{File: "/p/a.proj", JSON: "old"})
	snapshot := cache.AllProjects()
	cache.AddProject(framework.Project{File: "/p/a.proj", JSON: "new"})
	cache.AddProject(framework.Project{File: "/p/b.proj"})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "old", snapshot[0].JSON)
}

func TestVersionAdvancesOnMutation(t *testing.T) {
	cache := NewTypeCache()
	v0 := cache.Version()
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	v1 := cache.Version()
	assert.Greater(t, v1, v0)
	cache.AddReference(ref("/p/a.cs", "class", "Foo", "class Foo", 1, true))
	assert.Equal(t, v1, cache.Version())
	cache.Invalidate("/p/a.cs")
	assert.Greater(t, cache.Version(), v1)
}

func TestConcurrentWritesAndSearches(t *testing.T) {
	cache := NewTypeCache()
	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			file := fmt.Sprintf("/p/file%02d.cs", w)
			cache.AddFile(framework.ProjectFile{File: file, FileSearch: true})
			for i := 0; i < perWriter; i++ {
				cache.AddReference(ref(file, "class", fmt.Sprintf("T%d", i), fmt.Sprintf("class T%d", i), i, true))
				cache.AddSignature(framework.SignatureReference{File: file, Name: "T", Line: i})
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = cache.Find("file t1")
				_ = cache.FindFiles("file")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, cache.FileCount())
	assert.Equal(t, writers*perWriter, cache.CodeReferenceCount())
	assert.Len(t, cache.AllSignatures(), writers*perWriter)
}
