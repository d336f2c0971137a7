package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVMTranslator runs the translator end to end against a small stack-only program
// (no call/return frames, so the expected assembly can be derived directly from the
// Lowerer's known push/arithmetic templates without needing to simulate execution).
func TestVMTranslator(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "SimpleAdd.vm")
	output := filepath.Join(dir, "SimpleAdd.asm")

	require.NoError(t, os.WriteFile(input, []byte(`
push constant 7
push constant 8
add
`), 0644))

	status := Handler([]string{input}, map[string]string{"output": output})
	require.Equal(t, 0, status)

	compiled, err := os.ReadFile(output)
	require.NoError(t, err)

	expected := "@7\n" + "D=A\n" + "@SP\n" + "M=M+1\n" + "A=M-1\n" + "M=D\n" +
		"@8\n" + "D=A\n" + "@SP\n" + "M=M+1\n" + "A=M-1\n" + "M=D\n" +
		"@SP\n" + "AM=M-1\n" + "D=M\n" + "A=A-1\n" + "M=D+M\n"
	require.Equal(t, expected, string(compiled))
}

func TestVMTranslatorMissingOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "SimpleAdd.vm")
	require.NoError(t, os.WriteFile(input, []byte("push constant 1\n"), 0644))

	status := Handler([]string{input}, map[string]string{})
	require.NotEqual(t, 0, status)
}
