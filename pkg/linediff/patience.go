// Package linediff computes line-level differences between two versions of a
// text file using patience matching: lines unique to both sides anchor the
// alignment, the longest increasing run of anchors is kept, and the gaps are
// matched recursively.
package linediff

import (
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Fallback selects how regions without unique anchors are matched.
type Fallback string

// Supported fallback matchers.
const (
	// FallbackMyers runs a Myers line diff (diffmatchpatch) over the region.
	FallbackMyers Fallback = "myers"
	// FallbackRatcliff uses Ratcliff/Obershelp matching blocks (difflib).
	FallbackRatcliff Fallback = "ratcliff"
	// FallbackNone leaves the region unmatched, reporting it as replaced.
	FallbackNone Fallback = "none"
)

// Default tuning.
const (
	DefaultMaxRecursion = 10
	DefaultTimeout      = time.Second
)

// ErrUnknownFallback is returned by ParseFallback.
var ErrUnknownFallback = errors.New("unknown diff fallback")

// ParseFallback validates a fallback name. The empty string selects Myers.
func ParseFallback(name string) (Fallback, error) {
	switch Fallback(name) {
	case "", FallbackMyers:
		return FallbackMyers, nil
	case FallbackRatcliff, FallbackNone:
		return Fallback(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFallback, name)
	}
}

// Options configures a Differ.
type Options struct {
	Fallback     Fallback
	MaxRecursion int
	Timeout      time.Duration
}

// DefaultOptions returns the options used by the package-level helpers.
func DefaultOptions() Options {
	return Options{Fallback: FallbackMyers, MaxRecursion: DefaultMaxRecursion, Timeout: DefaultTimeout}
}

// Differ computes patience diffs.
type Differ struct {
	dmp  *diffmatchpatch.DiffMatchPatch
	opts Options
}

// New creates a Differ. Zero option fields take their defaults.
func New(opts Options) *Differ {
	if opts.Fallback == "" {
		opts.Fallback = FallbackMyers
	}

	if opts.MaxRecursion <= 0 {
		opts.MaxRecursion = DefaultMaxRecursion
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = opts.Timeout

	return &Differ{dmp: dmp, opts: opts}
}

// pair is one matched line: index in a, index in b.
type pair struct {
	a, b int
}

// sequences holds both inputs as text and as interned ids.
type sequences struct {
	a, b     []string
	aid, bid []int
}

func intern(a, b []string) *sequences {
	ids := make(map[string]int, len(a)+len(b))
	seqs := &sequences{a: a, b: b, aid: make([]int, len(a)), bid: make([]int, len(b))}

	lookup := func(line string) int {
		id, ok := ids[line]
		if !ok {
			id = len(ids)
			ids[line] = id
		}

		return id
	}

	for i, line := range a {
		seqs.aid[i] = lookup(line)
	}

	for i, line := range b {
		seqs.bid[i] = lookup(line)
	}

	return seqs
}

// MatchingBlocks returns maximal runs of equal lines in increasing order,
// terminated by the sentinel {len(a), len(b), 0}.
func (d *Differ) MatchingBlocks(a, b []string) []difflib.Match {
	seqs := intern(a, b)

	var matches []pair

	d.recurse(seqs, 0, 0, len(a), len(b), &matches, d.opts.MaxRecursion)

	return collapse(matches, len(a), len(b))
}

// recurse fills answer with matched pairs between a[alo:ahi] and b[blo:bhi].
func (d *Differ) recurse(seqs *sequences, alo, blo, ahi, bhi int, answer *[]pair, depth int) {
	if depth < 0 || alo == ahi || blo == bhi {
		return
	}

	before := len(*answer)
	lastA, lastB := alo-1, blo-1

	for _, anchor := range uniqueLCS(seqs.aid[alo:ahi], seqs.bid[blo:bhi]) {
		apos, bpos := anchor.a+alo, anchor.b+blo

		if lastA+1 != apos || lastB+1 != bpos {
			d.recurse(seqs, lastA+1, lastB+1, apos, bpos, answer, depth-1)
		}

		lastA, lastB = apos, bpos
		*answer = append(*answer, pair{apos, bpos})
	}

	switch {
	case len(*answer) > before:
		d.recurse(seqs, lastA+1, lastB+1, ahi, bhi, answer, depth-1)
	case seqs.aid[alo] == seqs.bid[blo]:
		for alo < ahi && blo < bhi && seqs.aid[alo] == seqs.bid[blo] {
			*answer = append(*answer, pair{alo, blo})
			alo++
			blo++
		}

		d.recurse(seqs, alo, blo, ahi, bhi, answer, depth-1)
	case seqs.aid[ahi-1] == seqs.bid[bhi-1]:
		nahi, nbhi := ahi-1, bhi-1
		for nahi > alo && nbhi > blo && seqs.aid[nahi-1] == seqs.bid[nbhi-1] {
			nahi--
			nbhi--
		}

		d.recurse(seqs, alo, blo, nahi, nbhi, answer, depth-1)

		for i := range ahi - nahi {
			*answer = append(*answer, pair{nahi + i, nbhi + i})
		}
	default:
		*answer = append(*answer, d.fallback(seqs, alo, blo, ahi, bhi)...)
	}
}

// uniqueLCS matches lines occurring exactly once in both a and b and returns
// the longest subsequence of those matches increasing on both sides.
func uniqueLCS(a, b []int) []pair {
	const notUnique = -1

	index := make(map[int]int, len(a))

	for i, line := range a {
		if _, seen := index[line]; seen {
			index[line] = notUnique
		} else {
			index[line] = i
		}
	}

	btoa := make([]int, len(b))
	seenInB := make(map[int]int)

	for pos, line := range b {
		btoa[pos] = notUnique

		apos, ok := index[line]
		if !ok || apos == notUnique {
			continue
		}

		if prev, dup := seenInB[line]; dup {
			btoa[prev] = notUnique
			index[line] = notUnique

			continue
		}

		seenInB[line] = pos
		btoa[pos] = apos
	}

	// Patience sorting: tails[k] is the smallest a index ending an increasing
	// run of length k+1; tailPos holds the b index of that element.
	var tails, tailPos []int

	back := make([]int, len(b))

	for bpos, apos := range btoa {
		back[bpos] = notUnique

		if apos == notUnique {
			continue
		}

		k := sort.SearchInts(tails, apos)
		if k > 0 {
			back[bpos] = tailPos[k-1]
		}

		if k == len(tails) {
			tails = append(tails, apos)
			tailPos = append(tailPos, bpos)
		} else {
			tails[k] = apos
			tailPos[k] = bpos
		}
	}

	if len(tailPos) == 0 {
		return nil
	}

	result := make([]pair, len(tailPos))

	for k, i := tailPos[len(tailPos)-1], len(tailPos)-1; k != notUnique; k, i = back[k], i-1 {
		result[i] = pair{btoa[k], k}
	}

	return result
}

func (d *Differ) fallback(seqs *sequences, alo, blo, ahi, bhi int) []pair {
	switch d.opts.Fallback {
	case FallbackRatcliff:
		return ratcliffMatches(seqs, alo, blo, ahi, bhi)
	case FallbackNone:
		return nil
	default:
		return d.myersMatches(seqs, alo, blo, ahi, bhi)
	}
}

// myersMatches runs diffmatchpatch over the region with one rune per line.
func (d *Differ) myersMatches(seqs *sequences, alo, blo, ahi, bhi int) []pair {
	src := toRunes(seqs.aid[alo:ahi])
	dst := toRunes(seqs.bid[blo:bhi])

	diffs := d.dmp.DiffMainRunes(src, dst, false)

	var out []pair

	ai, bi := alo, blo

	for _, edit := range diffs {
		n := utf8.RuneCountInString(edit.Text)

		switch edit.Type {
		case diffmatchpatch.DiffEqual:
			for k := range n {
				out = append(out, pair{ai + k, bi + k})
			}

			ai += n
			bi += n
		case diffmatchpatch.DiffDelete:
			ai += n
		case diffmatchpatch.DiffInsert:
			bi += n
		}
	}

	return out
}

// ratcliffMatches uses difflib's matching blocks over the region.
func ratcliffMatches(seqs *sequences, alo, blo, ahi, bhi int) []pair {
	matcher := difflib.NewMatcherWithJunk(seqs.a[alo:ahi], seqs.b[blo:bhi], false, nil)

	var out []pair

	for _, block := range matcher.GetMatchingBlocks() {
		for k := range block.Size {
			out = append(out, pair{alo + block.A + k, blo + block.B + k})
		}
	}

	return out
}

// Surrogate code points cannot survive a rune-to-string round trip.
const (
	surrogateMin = 0xD800
	surrogateLen = 0x800
)

func toRunes(ids []int) []rune {
	runes := make([]rune, len(ids))

	for i, id := range ids {
		r := rune(id + 1)
		if r >= surrogateMin {
			r += surrogateLen
		}

		runes[i] = r
	}

	return runes
}

// collapse merges consecutive pairs into matching blocks.
func collapse(matches []pair, lenA, lenB int) []difflib.Match {
	var blocks []difflib.Match

	for _, m := range matches {
		if n := len(blocks); n > 0 {
			last := &blocks[n-1]
			if last.A+last.Size == m.a && last.B+last.Size == m.b {
				last.Size++

				continue
			}
		}

		blocks = append(blocks, difflib.Match{A: m.a, B: m.b, Size: 1})
	}

	return append(blocks, difflib.Match{A: lenA, B: lenB, Size: 0})
}
