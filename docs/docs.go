//go:build docs

package main

import (
	"fmt"
	"os"
	"path"
	"strings"

	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/internal/version"
	"github.com/maxgio92/xstat/pkg/cmd"
)

const (
	docsDir        = "docs"
	manDir         = "docs/man"
	readmeTemplate = "README.md.tpl"
	templateMarker = "{{ .CLI_REFERENCE }}"
)

func linkHandler(filename string) string {
	if filename == settings.CmdName+".md" {
		// The root command page is spliced into the README.
		return "README.md"
	}
	return path.Join(docsDir, filename)
}

func noHeader(string) string { return "" }

func main() {
	root := cmd.NewCommand(
		cmd.NewOptions(
			cmd.WithLogger(log.New(os.Stderr).Level(log.InfoLevel)),
		),
	)

	if err := generate(root); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func generate(root *cobra.Command) error {
	if err := doc.GenMarkdownTreeCustom(root, docsDir, noHeader, linkHandler); err != nil {
		return fmt.Errorf("failed to generate the CLI reference: %w", err)
	}

	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return err
	}
	header := &doc.GenManHeader{
		Title:   strings.ToUpper(settings.CmdName),
		Section: "1",
		Source:  fmt.Sprintf("%s %s", settings.CmdName, version.Current),
	}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		return fmt.Errorf("failed to generate the man pages: %w", err)
	}

	return readme()
}

// readme replaces the template marker of the handwritten README template
// with the root command reference.
func readme() error {
	tpl, err := os.ReadFile(readmeTemplate)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read README template: %w", err)
	}

	ref, err := os.ReadFile(path.Join(docsDir, settings.CmdName+".md"))
	if err != nil {
		return fmt.Errorf("failed to read CLI doc README: %w", err)
	}

	out := strings.Replace(string(tpl), templateMarker, string(ref), 1)
	if err := os.WriteFile("README.md", []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write final README: %w", err)
	}
	return nil
}
