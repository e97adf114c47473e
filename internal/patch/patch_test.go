package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/musicpd/depbuild/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/sumdb/dirhash"
)

const gitPatch = `From 1b2c Mon Sep 17 00:00:00 2001
Subject: [PATCH] fix foo

diff --git a/src/foo.c b/src/foo.c
--- a/src/foo.c
+++ b/src/foo.c
@@ -1,3 +1,3 @@
 line1
-line2
+line two
 line3
diff --git a/NEWS b/NEWS
new file mode 100644
--- /dev/null
+++ b/NEWS
@@ -0,0 +1 @@
+patched
`

const plainPatch = `--- libfoo-1.0.orig/configure.ac
+++ libfoo-1.0/configure.ac
@@ -1,2 +1,2 @@
-AC_INIT([foo], [1.0])
+AC_INIT([foo], [1.0.1])
 AC_OUTPUT
`

const renamePatch = `diff --git a/old.h b/include/new.h
similarity index 100%
rename from old.h
rename to include/new.h
diff --git a/obsolete.c b/obsolete.c
deleted file mode 100644
--- a/obsolete.c
+++ /dev/null
@@ -1 +0,0 @@
-gone
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func sourceTree(t *testing.T) string {
	return writeTree(t, map[string]string{
		"src/foo.c":    "line1\nline2\nline3\n",
		"configure.ac": "AC_INIT([foo], [1.0])\nAC_OUTPUT\n",
		"old.h":        "#define OLD 1\n",
		"obsolete.c":   "gone\n",
		"include/a.h":  "",
	})
}

func patchDir(t *testing.T) string {
	return writeTree(t, map[string]string{
		"0001-fix-foo.patch":   gitPatch,
		"0002-version.diff":    plainPatch,
		"0003-layout.patch":    renamePatch,
		".hidden.patch":        "garbage",
		"subdir/ignored.patch": "garbage",
	})
}

func read(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestFiles(t *testing.T) {
	dir := patchDir(t)
	files, err := Files(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"0001-fix-foo.patch", "0002-version.diff", "0003-layout.patch"}, names)

	none, err := Files("")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApply(t *testing.T) {
	src := sourceTree(t)
	edits := []manifest.Edit{
		{Name: "bump", File: "configure.ac", Pattern: `1\.0\.1`, Replacement: `1.0.2`, Count: 1},
	}

	require.NoError(t, (&Applier{}).Apply(src, patchDir(t), edits))

	assert.Equal(t, "line1\nline two\nline3\n", read(t, src, "src/foo.c"))
	assert.Equal(t, "patched\n", read(t, src, "NEWS"))
	assert.Equal(t, "AC_INIT([foo], [1.0.2])\nAC_OUTPUT\n", read(t, src, "configure.ac"))
	assert.Equal(t, "#define OLD 1\n", read(t, src, "include/new.h"))
	assert.NoFileExists(t, filepath.Join(src, "old.h"))
	assert.NoFileExists(t, filepath.Join(src, "obsolete.c"))
}

const newDirPatch = `diff --git a/cmake/FindFoo.cmake b/cmake/FindFoo.cmake
new file mode 100644
--- /dev/null
+++ b/cmake/FindFoo.cmake
@@ -0,0 +1 @@
+find_path(FOO_INCLUDE_DIR foo.h)
`

func TestApplyNewFileInNewDir(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{name: "git", patch: newDirPatch},
		{
			name:  "traditional",
			patch: "--- /dev/null\n+++ foo-1.0/cmake/FindFoo.cmake\n@@ -0,0 +1 @@\n+find_path(FOO_INCLUDE_DIR foo.h)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeTree(t, map[string]string{"CMakeLists.txt": "project(foo)\n"})
			patches := writeTree(t, map[string]string{"01.patch": tt.patch})

			require.NoError(t, (&Applier{}).Apply(src, patches, nil))
			assert.Equal(t, "find_path(FOO_INCLUDE_DIR foo.h)\n", read(t, src, "cmake/FindFoo.cmake"))
			assert.NoFileExists(t, filepath.Join(src, "FindFoo.cmake"))
		})
	}
}

func TestApplyStripLevelFromExistingFiles(t *testing.T) {
	// the modified file fixes the level, the created one follows it
	patch := "--- foo-1.0.orig/configure.ac\n+++ foo-1.0/configure.ac\n@@ -1,2 +1,2 @@\n" +
		"-AC_INIT([foo], [1.0])\n+AC_INIT([foo], [1.1])\n AC_OUTPUT\n" +
		"--- /dev/null\n+++ foo-1.0/m4/foo.m4\n@@ -0,0 +1 @@\n+dnl foo\n"
	src := sourceTree(t)
	patches := writeTree(t, map[string]string{"01.patch": patch})

	require.NoError(t, (&Applier{}).Apply(src, patches, nil))
	assert.Equal(t, "AC_INIT([foo], [1.1])\nAC_OUTPUT\n", read(t, src, "configure.ac"))
	assert.Equal(t, "dnl foo\n", read(t, src, "m4/foo.m4"))
}

func TestApplyDeterministic(t *testing.T) {
	patches := patchDir(t)
	a, b := sourceTree(t), sourceTree(t)
	require.NoError(t, (&Applier{}).Apply(a, patches, nil))
	require.NoError(t, (&Applier{}).Apply(b, patches, nil))

	ha, err := dirhash.HashDir(a, "src", dirhash.Hash1)
	require.NoError(t, err)
	hb, err := dirhash.HashDir(b, "src", dirhash.Hash1)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name    string
		patches map[string]string
		edits   []manifest.Edit
		want    PatchError
	}{
		{
			name:    "context mismatch",
			patches: map[string]string{"01.patch": "--- a/src/foo.c\n+++ b/src/foo.c\n@@ -1,2 +1,2 @@\n nope\n-line2\n+x\n"},
			want:    PatchError{Patch: "01.patch"},
		},
		{
			name:    "missing file",
			patches: map[string]string{"01.patch": "--- a/none.c\n+++ b/none.c\n@@ -1 +1 @@\n-a\n+b\n"},
			want:    PatchError{Patch: "01.patch"},
		},
		{
			name:    "not a diff",
			patches: map[string]string{"01.patch": "hello\n"},
			want:    PatchError{Patch: "01.patch"},
		},
		{
			name:    "escapes the tree",
			patches: map[string]string{"01.patch": "--- /dev/null\n+++ b/../../evil.txt\n@@ -0,0 +1 @@\n+x\n"},
			want:    PatchError{Patch: "01.patch"},
		},
		{
			name:  "edit without match",
			edits: []manifest.Edit{{Name: "nomatch", File: "configure.ac", Pattern: `XYZ`}},
			want:  PatchError{Edit: "nomatch", File: "configure.ac"},
		},
		{
			name:  "edit on missing file",
			edits: []manifest.Edit{{Name: "nofile", File: "missing.ac", Pattern: `x`}},
			want:  PatchError{Edit: "nofile", File: "missing.ac"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sourceTree(t)
			var dir string
			if tt.patches != nil {
				dir = writeTree(t, tt.patches)
			}
			err := (&Applier{}).Apply(src, dir, tt.edits)
			var pe *PatchError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want.Patch, pe.Patch)
			assert.Equal(t, tt.want.Edit, pe.Edit)
			if tt.want.File != "" {
				assert.Equal(t, tt.want.File, pe.File)
			}
		})
	}
}

func TestEditKeepsMode(t *testing.T) {
	src := writeTree(t, map[string]string{"configure": "#!/bin/sh\nVERSION=1\n"})
	require.NoError(t, os.Chmod(filepath.Join(src, "configure"), 0o755))

	err := (&Applier{}).Apply(src, "", []manifest.Edit{{Name: "v", File: "configure", Pattern: `VERSION=1`, Replacement: `VERSION=2`}})
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(src, "configure"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
}
