package collect

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/tools/cover"
)

// ParseGoCover reads a `go test -coverprofile` profile. Each source file is
// one module named by its import path. dirs maps package import paths to
// directories; files of unknown packages keep an empty File unless the
// profile names them absolutely.
func ParseGoCover(r io.Reader, dirs map[string]string) (*RawReport, error) {
	profiles, err := cover.ParseProfilesFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	report := &RawReport{Modules: make([]ModuleReport, 0, len(profiles))}

	for _, profile := range profiles {
		report.Modules = append(report.Modules, goModule(profile, dirs))
	}

	return report, nil
}

func goModule(profile *cover.Profile, dirs map[string]string) ModuleReport {
	executable := make(map[int]struct{})
	covered := make(map[int]struct{})

	for _, block := range profile.Blocks {
		for line := block.StartLine; line <= block.EndLine; line++ {
			executable[line] = struct{}{}

			if block.Count > 0 {
				covered[line] = struct{}{}
			}
		}
	}

	module := ModuleReport{
		Name: profile.FileName,
		File: resolveGoFile(profile.FileName, dirs),
		Test: strings.HasSuffix(profile.FileName, "_test.go"),
	}

	for line := range executable {
		module.Executable = append(module.Executable, line)

		if _, ok := covered[line]; !ok {
			module.Missed = append(module.Missed, line)
		}
	}

	slices.Sort(module.Executable)
	slices.Sort(module.Missed)

	return module
}

func resolveGoFile(name string, dirs map[string]string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}

	dir, ok := dirs[path.Dir(name)]
	if !ok {
		return ""
	}

	return filepath.Join(dir, path.Base(name))
}
