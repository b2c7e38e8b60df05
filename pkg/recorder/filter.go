package recorder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ModuleDescriptor describes a module seen during a test.
type ModuleDescriptor struct {
	Name string
	File string
	// Preloaded modules were loaded before coverage started.
	Preloaded bool
	Test      bool
}

// ModuleFilter decides which modules' coverage is recorded.
type ModuleFilter struct {
	packages     []*regexp.Regexp
	excludes     []string
	root         string
	includeTests bool
}

// FilterOptions configures a ModuleFilter.
type FilterOptions struct {
	// Packages restricts recording to module names starting with one of
	// these prefixes at a word boundary.
	Packages []string
	// Exclude holds doublestar globs matched against paths relative to Root.
	Exclude      []string
	Root         string
	IncludeTests bool
}

// NewModuleFilter compiles opts.
func NewModuleFilter(opts FilterOptions) (*ModuleFilter, error) {
	filter := &ModuleFilter{root: opts.Root, includeTests: opts.IncludeTests}

	for _, prefix := range opts.Packages {
		re, err := regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile package filter %q: %w", prefix, err)
		}

		filter.packages = append(filter.packages, re)
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
		}

		filter.excludes = append(filter.excludes, pattern)
	}

	return filter, nil
}

// Want reports whether the module's coverage should be recorded.
func (f *ModuleFilter) Want(module ModuleDescriptor) bool {
	if module.File == "" || f.excluded(module.File) {
		return false
	}

	if module.Test && !f.includeTests {
		return false
	}

	if len(f.packages) > 0 {
		for _, re := range f.packages {
			if re.MatchString(module.Name) {
				return true
			}
		}

		return false
	}

	return !module.Preloaded
}

func (f *ModuleFilter) excluded(file string) bool {
	if len(f.excludes) == 0 {
		return false
	}

	target := filepath.ToSlash(file)

	if f.root != "" {
		if rel, err := filepath.Rel(f.root, file); err == nil && !strings.HasPrefix(rel, "..") {
			target = filepath.ToSlash(rel)
		}
	}

	for _, pattern := range f.excludes {
		if match, _ := doublestar.Match(pattern, target); match {
			return true
		}
	}

	return false
}
