package gotest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// Package is one Go package as reported by go list.
type Package struct {
	ImportPath   string
	Dir          string
	TestGoFiles  []string
	XTestGoFiles []string
}

// HasTests reports whether the package has test files.
func (p Package) HasTests() bool {
	return len(p.TestGoFiles) > 0 || len(p.XTestGoFiles) > 0
}

// ListPackages runs go list over patterns.
func (d *Driver) ListPackages(ctx context.Context, patterns []string) ([]Package, error) {
	args := append([]string{"list", "-e", "-json"}, patterns...)

	out, err := d.runner.Run(ctx, d.workdir, d.goBin, args...)
	if err != nil {
		return nil, fmt.Errorf("go list: %w: %s", err, bytes.TrimSpace(out))
	}

	dec := json.NewDecoder(bytes.NewReader(out))

	var pkgs []Package

	for {
		var pkg Package

		decodeErr := dec.Decode(&pkg)
		if errors.Is(decodeErr, io.EOF) {
			return pkgs, nil
		}

		if decodeErr != nil {
			return nil, fmt.Errorf("decode go list output: %w", decodeErr)
		}

		pkgs = append(pkgs, pkg)
	}
}

// ListTests returns the top-level tests and examples of pkg as TestIDs
// (import path, function name).
func (d *Driver) ListTests(ctx context.Context, pkg Package) ([]coverage.TestID, error) {
	out, err := d.runner.Run(ctx, d.workdir, d.goBin, "test", "-list", ".", pkg.ImportPath)
	if err != nil {
		return nil, fmt.Errorf("list tests of %s: %w: %s", pkg.ImportPath, err, bytes.TrimSpace(out))
	}

	var tests []coverage.TestID

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Example") {
			tests = append(tests, coverage.NewTestID(pkg.ImportPath, name))
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return nil, fmt.Errorf("read test list: %w", scanErr)
	}

	return tests, nil
}
