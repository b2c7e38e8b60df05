package coverage

import (
	"maps"
	"slices"
)

// RecordVersion is the schema version written with every record.
const RecordVersion = 1

// ModuleCoverage is the line coverage of one module (source file) as observed
// during one test. Line lists are sorted, 1-based.
type ModuleCoverage struct {
	File       string `json:"file"       yaml:"file"`
	Executable []int  `json:"executable" yaml:"executable"`
	Excluded   []int  `json:"excluded"   yaml:"excluded"`
	Missed     []int  `json:"missed"     yaml:"missed"`
}

// ExecutedLines returns Executable minus Excluded minus Missed.
func (m ModuleCoverage) ExecutedLines() []int {
	skip := make(map[int]struct{}, len(m.Excluded)+len(m.Missed))

	for _, line := range m.Excluded {
		skip[line] = struct{}{}
	}

	for _, line := range m.Missed {
		skip[line] = struct{}{}
	}

	executed := make([]int, 0, len(m.Executable))

	for _, line := range m.Executable {
		if _, ok := skip[line]; !ok {
			executed = append(executed, line)
		}
	}

	return executed
}

// FullyMissed reports whether no executable line was run.
func (m ModuleCoverage) FullyMissed() bool {
	return len(m.Missed) == len(m.Executable)
}

// Record is the coverage captured for one test at one commit. An Unusable
// record marks a test that did not pass; its coverage cannot be trusted.
type Record struct {
	Modules  map[string]ModuleCoverage
	Version  int
	Unusable bool
}

// NewRecord returns an empty, usable record.
func NewRecord() *Record {
	return &Record{Version: RecordVersion, Modules: make(map[string]ModuleCoverage)}
}

// UnusableRecord returns the sentinel written for failed or errored tests.
func UnusableRecord() *Record {
	return &Record{Version: RecordVersion, Unusable: true}
}

// Add stores the coverage of a module, normalizing its line lists.
func (r *Record) Add(name string, module ModuleCoverage) {
	if r.Modules == nil {
		r.Modules = make(map[string]ModuleCoverage)
	}

	module.Executable = normalizeLines(module.Executable)
	module.Excluded = normalizeLines(module.Excluded)
	module.Missed = normalizeLines(module.Missed)

	r.Modules[name] = module
}

// ModuleNames returns the module names in ascending order.
func (r *Record) ModuleNames() []string {
	return slices.Sorted(maps.Keys(r.Modules))
}

// ExecutedByFile maps each file to the set of lines the test executed in it.
// Modules sharing a file are merged.
func (r *Record) ExecutedByFile() map[string]map[int]struct{} {
	files := make(map[string]map[int]struct{}, len(r.Modules))

	for _, module := range r.Modules {
		lines, ok := files[module.File]
		if !ok {
			lines = make(map[int]struct{})
			files[module.File] = lines
		}

		for _, line := range module.ExecutedLines() {
			lines[line] = struct{}{}
		}
	}

	return files
}
