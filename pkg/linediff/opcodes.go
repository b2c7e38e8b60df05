package linediff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Opcode tags, as used by difflib.
const (
	TagEqual   byte = 'e'
	TagReplace byte = 'r'
	TagDelete  byte = 'd'
	TagInsert  byte = 'i'
)

// ChangeSet lists the 1-based line numbers touched by a diff.
type ChangeSet struct {
	// Old holds lines of the old version that were deleted or replaced, plus
	// the old lines on either side of each pure insertion.
	Old []int
	// New holds lines of the new version that were inserted or replaced.
	New []int
}

// Empty reports whether the diff touched no line.
func (c ChangeSet) Empty() bool {
	return len(c.Old) == 0 && len(c.New) == 0
}

// Union returns Old and New merged, sorted and de-duplicated.
func (c ChangeSet) Union() []int {
	out := make([]int, 0, len(c.Old)+len(c.New))
	out = append(out, c.Old...)
	out = append(out, c.New...)
	slices.Sort(out)

	return slices.Compact(out)
}

// OpCodes describes how to turn a into b, like difflib's get_opcodes but on
// patience matching blocks.
func (d *Differ) OpCodes(a, b []string) []difflib.OpCode {
	var codes []difflib.OpCode

	i, j := 0, 0

	for _, block := range d.MatchingBlocks(a, b) {
		var tag byte

		switch {
		case i < block.A && j < block.B:
			tag = TagReplace
		case i < block.A:
			tag = TagDelete
		case j < block.B:
			tag = TagInsert
		}

		if tag != 0 {
			codes = append(codes, difflib.OpCode{Tag: tag, I1: i, I2: block.A, J1: j, J2: block.B})
		}

		i, j = block.A+block.Size, block.B+block.Size

		if block.Size > 0 {
			codes = append(codes, difflib.OpCode{Tag: TagEqual, I1: block.A, I2: i, J1: block.B, J2: j})
		}
	}

	return codes
}

// GroupedOpCodes splits codes into hunks with up to n lines of context.
func GroupedOpCodes(codes []difflib.OpCode, n int) [][]difflib.OpCode {
	if len(codes) == 0 {
		codes = []difflib.OpCode{{Tag: TagEqual, I1: 0, I2: 1, J1: 0, J2: 1}}
	}

	codes = slices.Clone(codes)

	if first := codes[0]; first.Tag == TagEqual {
		codes[0] = equal(max(first.I1, first.I2-n), first.I2, max(first.J1, first.J2-n), first.J2)
	}

	if last := codes[len(codes)-1]; last.Tag == TagEqual {
		codes[len(codes)-1] = equal(last.I1, min(last.I2, last.I1+n), last.J1, min(last.J2, last.J1+n))
	}

	var (
		groups [][]difflib.OpCode
		group  []difflib.OpCode
	)

	for _, code := range codes {
		if code.Tag == TagEqual && code.I2-code.I1 > 2*n {
			group = append(group, equal(code.I1, min(code.I2, code.I1+n), code.J1, min(code.J2, code.J1+n)))
			groups = append(groups, group)
			group = nil
			code.I1 = max(code.I1, code.I2-n)
			code.J1 = max(code.J1, code.J2-n)
		}

		group = append(group, code)
	}

	if len(group) > 0 && (len(group) != 1 || group[0].Tag != TagEqual) {
		groups = append(groups, group)
	}

	return groups
}

func equal(i1, i2, j1, j2 int) difflib.OpCode {
	return difflib.OpCode{Tag: TagEqual, I1: i1, I2: i2, J1: j1, J2: j2}
}

// Compute returns the lines touched by the diff from a to b.
func (d *Differ) Compute(a, b []string) ChangeSet {
	var changes ChangeSet

	for _, code := range d.OpCodes(a, b) {
		switch code.Tag {
		case TagReplace:
			changes.Old = appendRange(changes.Old, code.I1, code.I2)
			changes.New = appendRange(changes.New, code.J1, code.J2)
		case TagDelete:
			changes.Old = appendRange(changes.Old, code.I1, code.I2)
		case TagInsert:
			changes.New = appendRange(changes.New, code.J1, code.J2)

			// Old lines I1 and I1+1 (1-based) surround the insertion point.
			if code.I1 >= 1 {
				changes.Old = append(changes.Old, code.I1)
			}

			if code.I1 < len(a) {
				changes.Old = append(changes.Old, code.I1+1)
			}
		}
	}

	slices.Sort(changes.Old)
	changes.Old = slices.Compact(changes.Old)

	return changes
}

// ChangedLines returns the 1-based indices of b lying in an insert or replace
// region of the diff from a to b.
func (d *Differ) ChangedLines(a, b []string) []int {
	return d.Compute(a, b).New
}

// appendRange appends the 1-based numbers of the 0-based half-open range.
func appendRange(dst []int, lo, hi int) []int {
	for i := lo; i < hi; i++ {
		dst = append(dst, i+1)
	}

	return dst
}

// Unified renders the diff as unified-diff hunks with context lines.
func (d *Differ) Unified(a, b []string, fromFile, toFile string, context int) string {
	codes := d.OpCodes(a, b)
	if !hasChanges(codes) {
		return ""
	}

	var out strings.Builder

	fmt.Fprintf(&out, "--- %s\n+++ %s\n", fromFile, toFile)

	for _, group := range GroupedOpCodes(codes, context) {
		first, last := group[0], group[len(group)-1]

		fmt.Fprintf(&out, "@@ -%s +%s @@\n",
			formatRange(first.I1, last.I2), formatRange(first.J1, last.J2))

		for _, code := range group {
			if code.Tag == TagEqual {
				writeLines(&out, ' ', a[code.I1:code.I2])

				continue
			}

			if code.Tag == TagReplace || code.Tag == TagDelete {
				writeLines(&out, '-', a[code.I1:code.I2])
			}

			if code.Tag == TagReplace || code.Tag == TagInsert {
				writeLines(&out, '+', b[code.J1:code.J2])
			}
		}
	}

	return out.String()
}

func hasChanges(codes []difflib.OpCode) bool {
	return slices.ContainsFunc(codes, func(code difflib.OpCode) bool { return code.Tag != TagEqual })
}

// formatRange renders a hunk range in unified format.
func formatRange(start, stop int) string {
	beginning := start + 1
	length := stop - start

	switch length {
	case 1:
		return fmt.Sprintf("%d", beginning)
	case 0:
		beginning--
	}

	return fmt.Sprintf("%d,%d", beginning, length)
}

func writeLines(out *strings.Builder, prefix byte, lines []string) {
	for _, line := range lines {
		out.WriteByte(prefix)
		out.WriteString(line)
		out.WriteByte('\n')
	}
}

// SplitLines splits file content into lines without terminators. A trailing
// newline does not produce an empty final line; "\r\n" endings are accepted.
func SplitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	return lines
}

var defaultDiffer = New(DefaultOptions())

// ChangedLines diffs a and b with default options.
func ChangedLines(a, b []string) []int {
	return defaultDiffer.ChangedLines(a, b)
}
