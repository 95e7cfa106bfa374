// Package latex runs the external typesetting compiler in isolated scratch
// directories and reports structured compile failures.
package latex

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxDiagnosticChars bounds the compiler output carried on a CompileError.
const maxDiagnosticChars = 8000

// CompileError carries the tail of the compiler's combined output.
type CompileError struct {
	Output string
}

func (e *CompileError) Error() string { return e.Output }

// Compiler invokes the external typesetting engine.
type Compiler struct {
	Engine     string
	MaxRuns    int
	ScratchDir string
	Logger     *log.Logger
}

// New returns a Compiler with the run cap clamped to [1,5].
func New(engine string, maxRuns int, scratchDir string, logger *log.Logger) *Compiler {
	if engine == "" {
		engine = "lualatex"
	}
	if maxRuns < 1 {
		maxRuns = 1
	}
	if maxRuns > 5 {
		maxRuns = 5
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[LATEX] ", log.LstdFlags)
	}
	return &Compiler{Engine: engine, MaxRuns: maxRuns, ScratchDir: scratchDir, Logger: logger}
}

// Compile writes source into a fresh scratch directory, runs the engine the
// required number of passes (two when a table of contents must be resolved),
// and copies the produced artifact to outPath. Any non-zero exit aborts
// remaining passes with a *CompileError; a missing artifact after a clean run
// is a *CompileError too. The scratch directory is removed on every exit path.
func (c *Compiler) Compile(ctx context.Context, source, outPath string, toc bool) error {
	if err := os.MkdirAll(c.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}
	workdir := filepath.Join(c.ScratchDir, "tex_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			c.Logger.Printf("warn: remove workdir %s: %v", workdir, err)
		}
	}()

	if err := os.WriteFile(filepath.Join(workdir, "main.tex"), []byte(source), 0o644); err != nil {
		return fmt.Errorf("write source: %w", err)
	}

	runs := 1
	if toc {
		// A second pass resolves table-of-contents cross-references.
		runs = 2
	}
	if runs > c.MaxRuns {
		runs = c.MaxRuns
	}

	args := []string{
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-file-line-error",
		"-no-shell-escape",
		"main.tex",
	}

	var lastOut string
	for i := 0; i < runs; i++ {
		cmd := exec.CommandContext(ctx, c.Engine, args...)
		cmd.Dir = workdir
		out, err := cmd.CombinedOutput()
		lastOut = tail(string(out), maxDiagnosticChars)
		if err != nil {
			if _, ok := err.(*exec.ExitError); ok {
				return &CompileError{Output: lastOut}
			}
			return fmt.Errorf("run %s: %w", c.Engine, err)
		}
	}

	produced := filepath.Join(workdir, "main.pdf")
	if _, err := os.Stat(produced); err != nil {
		return &CompileError{Output: "PDF not produced. Output:\n" + lastOut}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := copyFile(produced, outPath); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	c.Logger.Printf("compiled artifact -> %s", outPath)
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
