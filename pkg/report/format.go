package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/duvet/pkg/persist"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown output format")

// Format is an output encoding.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses an output format name.
func ParseFormat(name string) (Format, error) {
	switch format := Format(strings.ToLower(name)); format {
	case FormatText, FormatJSON, FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// writeStructured encodes value as JSON or YAML.
func writeStructured(w io.Writer, format Format, value any) error {
	if format == FormatText {
		return fmt.Errorf("%w: %q is not structured", ErrUnknownFormat, format)
	}

	codec, err := persist.CodecByName(string(format))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownFormat, err)
	}

	return codec.Encode(w, value)
}

var (
	modifiedColor = color.New(color.FgRed, color.Bold)
	stableColor   = color.New(color.FgGreen)
	skippedColor  = color.New(color.FgYellow)
	dimColor      = color.New(color.Faint)
)

func verdictLabel(modified bool) string {
	if modified {
		return modifiedColor.Sprint("modified")
	}

	return stableColor.Sprint("stable")
}

// FormatLines renders sorted line numbers as compact ranges, e.g. "1-3, 7".
func FormatLines(lines []int) string {
	var parts []string

	for i := 0; i < len(lines); {
		j := i
		for j+1 < len(lines) && lines[j+1] == lines[j]+1 {
			j++
		}

		if i == j {
			parts = append(parts, strconv.Itoa(lines[i]))
		} else {
			parts = append(parts, strconv.Itoa(lines[i])+"-"+strconv.Itoa(lines[j]))
		}

		i = j + 1
	}

	return strings.Join(parts, ", ")
}
