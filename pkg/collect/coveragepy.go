package collect

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed coveragepy.schema.json
var coveragePySchema []byte

var coveragePySchemaLoader = gojsonschema.NewBytesLoader(coveragePySchema)

type coveragePyFile struct {
	ExecutedLines []int `json:"executed_lines"`
	MissingLines  []int `json:"missing_lines"`
	ExcludedLines []int `json:"excluded_lines"`
}

type coveragePyReport struct {
	Files map[string]coveragePyFile `json:"files"`
}

// ParseCoveragePy reads a `coverage json` report. Relative paths are
// resolved against root; module names are dotted paths without ".py".
func ParseCoveragePy(data []byte, root string) (*RawReport, error) {
	result, err := gojsonschema.Validate(coveragePySchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidReport, first.Field(), first.Description())
	}

	var raw coveragePyReport

	err = json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}

	report := &RawReport{Modules: make([]ModuleReport, 0, len(raw.Files))}

	for _, name := range slices.Sorted(maps.Keys(raw.Files)) {
		file := raw.Files[name]

		executable := slices.Concat(file.ExecutedLines, file.MissingLines)
		slices.Sort(executable)

		report.Modules = append(report.Modules, ModuleReport{
			Name:       pythonModuleName(name),
			File:       resolvePyFile(name, root),
			Executable: slices.Compact(executable),
			Excluded:   slices.Sorted(slices.Values(file.ExcludedLines)),
			Missed:     slices.Sorted(slices.Values(file.MissingLines)),
			Test:       isPythonTest(name),
		})
	}

	return report, nil
}

func resolvePyFile(name, root string) string {
	native := filepath.FromSlash(name)
	if filepath.IsAbs(native) {
		return filepath.Clean(native)
	}

	return filepath.Join(root, native)
}

func pythonModuleName(name string) string {
	slashed := strings.TrimSuffix(filepath.ToSlash(name), ".py")
	slashed = strings.TrimSuffix(slashed, "/__init__")
	slashed = strings.TrimPrefix(slashed, "./")

	return strings.ReplaceAll(strings.TrimPrefix(slashed, "/"), "/", ".")
}

func isPythonTest(name string) bool {
	base := path.Base(filepath.ToSlash(name))

	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "tests.py" ||
		strings.Contains(filepath.ToSlash(name), "/tests/")
}
