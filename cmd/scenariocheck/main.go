// cmd/scenariocheck/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run validates every scenario file named by args. Directories are walked
// for .json files.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("scenariocheck", flag.ContinueOnError)
	flags.SetOutput(stderr)
	quiet := flags.Bool("q", false, "only report invalid files")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: scenariocheck [-q] <file-or-dir>...")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}

	files, err := collect(flags.Args())
	if err != nil {
		fmt.Fprintf(stderr, "scenariocheck: %v\n", err)
		return exitUsage
	}

	code := exitOK
	for _, file := range files {
		n, err := check(file)
		if err != nil {
			code = exitInvalid
			report(stdout, file, err)
			continue
		}
		if !*quiet {
			fmt.Fprintf(stdout, "ok   %s (%d scenarios)\n", file, n)
		}
	}
	return code
}

func collect(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func check(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scenarios, err := gamedata.ParseScenarioFile(f)
	return len(scenarios), err
}

func report(w io.Writer, file string, err error) {
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		fmt.Fprintf(w, "FAIL %s: %v\n", file, err)
		return
	}
	fmt.Fprintf(w, "FAIL %s: scenario %q\n", file, verr.ScenarioID)
	for _, problem := range verr.Problems {
		fmt.Fprintf(w, "     - %s\n", problem)
	}
}
