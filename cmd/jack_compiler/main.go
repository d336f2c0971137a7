package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"n2t.dev/toolchain/pkg/jack"
	"n2t.dev/toolchain/pkg/vm"

	"github.com/teris-io/cli"
)

var Description = strings.ReplaceAll(`
The Jack Compiler compiles programs (composed of multiple classes/files) written in
the Jack language into VM modules that can be further elaborated. The Jack language
is a higher-level OOP language tailored for use with the Hack computer architecture.
`, "\n", " ")

var JackCompiler = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .jack file, or a directory
	WithArg(cli.NewArg("inputs", "The source (.jack) files or directories to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	// The aggregation of all the Translation Units (TUs, one per '.jack' file) found
	// during the input walk. In Jack every file declares exactly one class, so each TU
	// maps 1:1 onto a 'vm.Module' once compiled.
	var TUs []string
	for _, input := range args {
		filepath.Walk(input, func(walked string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(walked) != ".jack" {
				return nil // We recurse on dirs and ignore other filetypes
			}
			TUs = append(TUs, walked)
			return nil
		})
	}

	program := vm.Program{}

	for _, tu := range TUs {
		content, err := os.ReadFile(tu)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		engine := jack.NewCompilationEngine(string(content))
		module, className, err := engine.Compile()
		if err != nil {
			fmt.Printf("ERROR: Unable to compile '%s': %s\n", tu, err)
			return -1
		}

		program[className] = module
	}

	// Instantiate a code generator for the compiled Vm program
	codegen := vm.NewCodeGenerator(program)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, tu := range TUs {
		className := classNameOf(tu)
		module, ok := compiled[className]
		if !ok {
			fmt.Printf("ERROR: Unable to compile module for class file '%s'\n", tu)
			return -1
		}

		extension := path.Ext(tu)
		output, err := os.Create(fmt.Sprintf("%s.vm", strings.TrimSuffix(tu, extension)))
		if err != nil {
			fmt.Printf("ERROR: Unable to open output file: %s\n", err)
			return -1
		}
		defer output.Close()

		for _, line := range module {
			fmt.Fprintf(output, "%s\n", line)
		}
	}

	return 0
}

// classNameOf derives the class name the same way the standard Jack convention does:
// the '.jack' file's basename without extension must match its single declared class.
func classNameOf(tu string) string {
	filename, extension := path.Base(tu), path.Ext(tu)
	return strings.TrimSuffix(filename, extension)
}

func main() { os.Exit(JackCompiler.Run(os.Args, os.Stdout)) }
