package tsproject

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStripJSONC(t *testing.T) {
	input := `{
  // line comment
  "a": "keep // this and /* this */", /* block
  comment */
  "b": [1, 2, 3,],
  "c": {"d": "esc\"aped",},
}`
	var got map[string]any
	require.NoError(t, json.Unmarshal(StripJSONC([]byte(input)), &got))
	assert.Equal(t, "keep // this and /* this */", got["a"])
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, got["b"])
	assert.Equal(t, map[string]any{"d": `esc"aped`}, got["c"])
}

func TestResolveCompilerOptions_ExtendsChain(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "configs", "base.json"), `{
  "compilerOptions": {"strict": true, "target": "es2017", "jsx": "react"}
}`)
	write(t, filepath.Join(root, "node_modules", "@tsconfig", "node18", "tsconfig.json"), `{
  "compilerOptions": {"module": "node16", "target": "es2022"}
}`)
	// Array form: later entries override earlier ones.
	write(t, filepath.Join(root, "tsconfig.json"), `{
  // project config
  "extends": ["@tsconfig/node18", "./configs/base"],
  "compilerOptions": {"jsx": "react-jsx",},
}`)

	opts, err := ResolveCompilerOptions(filepath.Join(root, "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, true, opts["strict"])
	assert.Equal(t, "es2017", opts["target"], "later extends entry wins")
	assert.Equal(t, "node16", opts["module"])
	assert.Equal(t, "react-jsx", opts["jsx"], "child overrides parent")
}

func TestResolveCompilerOptions_PackageJSONSuffix(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "node_modules", "shared", "ts.json"), `{"compilerOptions": {"noEmit": true}}`)
	write(t, filepath.Join(root, "app", "tsconfig.json"), `{"extends": "shared/ts"}`)

	opts, err := ResolveCompilerOptions(filepath.Join(root, "app", "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, true, opts["noEmit"], "node_modules looked up from parent dirs with .json fallback")
}

func TestResolveCompilerOptions_SelfReferenceTerminates(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "tsconfig.json"), `{"extends": "./tsconfig.json", "compilerOptions": {"strict": true}}`)
	write(t, filepath.Join(root, "a.json"), `{"extends": "./b", "compilerOptions": {"fromA": 1}}`)
	write(t, filepath.Join(root, "b.json"), `{"extends": "./a", "compilerOptions": {"fromB": 2}}`)

	opts, err := ResolveCompilerOptions(filepath.Join(root, "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, true, opts["strict"])

	opts, err = ResolveCompilerOptions(filepath.Join(root, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, float64(1), opts["fromA"])
	assert.Equal(t, float64(2), opts["fromB"])
}

func TestResolveCompilerOptions_DepthLimit(t *testing.T) {
	root := t.TempDir()
	// level0 extends level1 ... level7; only MaxExtendsDepth hops are followed.
	for i := 0; i < 8; i++ {
		content := `{"compilerOptions": {"level` + string(rune('0'+i)) + `": true}`
		if i < 7 {
			content += `, "extends": "./level` + string(rune('0'+i+1)) + `.json"`
		}
		write(t, filepath.Join(root, "level"+string(rune('0'+i))+".json"), content+"}")
	}

	opts, err := ResolveCompilerOptions(filepath.Join(root, "level0.json"))
	require.NoError(t, err)
	for i := 0; i <= MaxExtendsDepth; i++ {
		assert.Contains(t, opts, "level"+string(rune('0'+i)))
	}
	assert.NotContains(t, opts, "level"+string(rune('0'+MaxExtendsDepth+1)))
}

func TestResolveCompilerOptions_MissingParentIgnored(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "tsconfig.json"), `{"extends": "./nope", "compilerOptions": {"strict": false}}`)
	opts, err := ResolveCompilerOptions(filepath.Join(root, "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, false, opts["strict"])
}

func TestCollectFiles_FiltersAndSkips(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "src", "index.ts"), "export {}")
	write(t, filepath.Join(root, "src", "App.tsx"), "<App />")
	write(t, filepath.Join(root, "lib", "util.js"), "module.exports = {}")
	write(t, filepath.Join(root, "lib", "view.JSX"), "x")
	write(t, filepath.Join(root, "README.md"), "# no")
	write(t, filepath.Join(root, "styles.css"), "body{}")
	write(t, filepath.Join(root, "big.ts"), strings.Repeat("a", MaxFileSize+1))
	write(t, filepath.Join(root, "exact.ts"), strings.Repeat("a", MaxFileSize))
	for dir := range SkipDirs {
		write(t, filepath.Join(root, dir, "skipped.ts"), "x")
		write(t, filepath.Join(root, "src", dir, "nested.ts"), "x")
	}

	files, truncated, err := CollectFiles(root, MaxFiles)
	require.NoError(t, err)
	assert.False(t, truncated)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		for dir := range SkipDirs {
			assert.NotContains(t, strings.Split(f.Path, "/"), dir, "walk entered %s", dir)
		}
	}
	assert.ElementsMatch(t, []string{"src/index.ts", "src/App.tsx", "lib/util.js", "lib/view.JSX", "exact.ts"}, paths)
}

func TestCollectFiles_Cap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		write(t, filepath.Join(root, string(rune('a'+i))+".ts"), "x")
	}
	files, truncated, err := CollectFiles(root, 3)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.True(t, truncated)
}

func TestGetProjectContext(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "tsconfig.json"), `{"compilerOptions": {"strict": true}}`)
	write(t, filepath.Join(root, "main.ts"), "const x = 1")

	pc, err := GetProjectContext(root)
	require.NoError(t, err)
	assert.Equal(t, root, pc.ProjectRoot)
	assert.Equal(t, true, pc.CompilerOptions["strict"])
	require.Len(t, pc.Files, 1)
	assert.Equal(t, SourceFile{Path: "main.ts", Content: "const x = 1"}, pc.Files[0])
}

func TestGetProjectContext_NoTSConfig(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "index.js"), "1")

	pc, err := GetProjectContext(root)
	require.NoError(t, err)
	assert.Empty(t, pc.CompilerOptions)
	assert.NotNil(t, pc.CompilerOptions)
	assert.Len(t, pc.Files, 1)
}

func TestGetProjectContext_BrokenTSConfigStillCollects(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "tsconfig.json"), `{ not json`)
	write(t, filepath.Join(root, "index.ts"), "1")

	pc, err := GetProjectContext(root)
	require.NoError(t, err)
	assert.Empty(t, pc.CompilerOptions)
	assert.Len(t, pc.Files, 1)
}

func TestGetProjectContext_MissingRoot(t *testing.T) {
	_, err := GetProjectContext(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
