// Package collect turns raw coverage tool output into per-module line lists.
package collect

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// Sentinel errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported coverage format")
	ErrInvalidReport     = errors.New("invalid coverage report")
)

// Format names a coverage report format.
type Format string

// Supported formats.
const (
	FormatGoCover    Format = "gocover"
	FormatCoveragePy Format = "coveragepy"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatGoCover, FormatCoveragePy}
}

// ParseFormat parses a format name.
func ParseFormat(name string) (Format, error) {
	format := Format(name)
	if !slices.Contains(Formats(), format) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	return format, nil
}

// ModuleReport is the coverage of one module as reported by a tool.
type ModuleReport struct {
	Name string
	// File is absolute, or empty when the source cannot be located.
	File       string
	Executable []int
	Excluded   []int
	Missed     []int
	// Preloaded marks modules loaded before coverage started.
	Preloaded bool
	// Test marks test sources.
	Test bool
}

// RawReport is the unfiltered coverage of one test.
type RawReport struct {
	Modules []ModuleReport
}

// Options locate sources named in a report.
type Options struct {
	// Root resolves relative coverage.py paths.
	Root string
	// PackageDirs maps Go import paths to directories.
	PackageDirs map[string]string
}

// Parse reads a report in the given format.
func Parse(format Format, r io.Reader, opts Options) (*RawReport, error) {
	switch format {
	case FormatGoCover:
		return ParseGoCover(r, opts.PackageDirs)
	case FormatCoveragePy:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read coverage.py report: %w", err)
		}

		return ParseCoveragePy(data, opts.Root)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
