package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHackAssembler runs the assembler end to end against a small, hand-verified
// program (no labels or variables, so the expected binary can be derived directly
// from the standard Hack comp/dest/jump tables without any symbol resolution).
func TestHackAssembler(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Add.asm")
	output := filepath.Join(dir, "Add.hack")

	require.NoError(t, os.WriteFile(input, []byte(`
@5
D=A
@3
D=D+A
@0
M=D
`), 0644))

	status := Handler([]string{input, output}, nil)
	require.Equal(t, 0, status)

	compiled, err := os.ReadFile(output)
	require.NoError(t, err)

	expected := "0000000000000101\n" +
		"1110110000010000\n" +
		"0000000000000011\n" +
		"1110000010010000\n" +
		"0000000000000000\n" +
		"1110001100001000\n"
	require.Equal(t, expected, string(compiled))
}

func TestHackAssemblerMissingInput(t *testing.T) {
	dir := t.TempDir()
	status := Handler([]string{filepath.Join(dir, "missing.asm"), filepath.Join(dir, "out.hack")}, nil)
	require.NotEqual(t, 0, status)
}
