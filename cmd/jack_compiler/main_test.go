package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestJackCompiler runs the compiler end to end against a minimal class and checks
// the generated VM text against the CodeGenerator's known rendering for each op.
func TestJackCompiler(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Main.jack")
	output := filepath.Join(dir, "Main.vm")

	require.NoError(t, os.WriteFile(input, []byte(`
	class Main {
		function void main() {
			return;
		}
	}
	`), 0644))

	status := Handler([]string{input}, nil)
	require.Equal(t, 0, status)

	compiled, err := os.ReadFile(output)
	require.NoError(t, err)

	expected := "function Main.main 0\n" + "push constant 0\n" + "return\n"
	require.Equal(t, expected, string(compiled))
}

func TestJackCompilerWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Foo.jack"), []byte(`
	class Foo {
		function void bar() {
			return;
		}
	}
	`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	status := Handler([]string{dir}, nil)
	require.Equal(t, 0, status)

	compiled, err := os.ReadFile(filepath.Join(dir, "Foo.vm"))
	require.NoError(t, err)
	require.Equal(t, "function Foo.bar 0\n"+"push constant 0\n"+"return\n", string(compiled))
}

func TestJackCompilerRejectsBadSyntax(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Bad.jack")
	require.NoError(t, os.WriteFile(input, []byte("not a class"), 0644))

	status := Handler([]string{input}, nil)
	require.NotEqual(t, 0, status)
}
