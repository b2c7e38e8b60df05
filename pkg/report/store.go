package report

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// Iterator walks store entries in key order.
type Iterator interface {
	Iterate(ctx context.Context, fn func(key string, value []byte) error) error
}

// StoreStats summarizes a store.
type StoreStats struct {
	Entries int
	Records int
	Bytes   int
}

// WriteStore prints every entry of the store. For records it lists each
// module with at least one executed line and those lines; with all set,
// modules without executed lines are listed too.
func WriteStore(ctx context.Context, w io.Writer, it Iterator, all bool) (StoreStats, error) {
	var stats StoreStats

	_, err := fmt.Fprintln(w, "COVERAGE")
	if err != nil {
		return stats, err
	}

	err = it.Iterate(ctx, func(key string, value []byte) error {
		stats.Entries++
		stats.Bytes += len(value)

		parsed, parseErr := coverage.ParseKey(key)
		if parseErr != nil {
			_, err := fmt.Fprintf(w, "%s %s\n", key, dimColor.Sprint("(unknown key)"))

			return err
		}

		switch parsed.Kind {
		case coverage.KeyTestSet:
			return writeTestSet(w, key, value)
		case coverage.KeyRun:
			return writeRunInfo(w, key, value)
		default:
			stats.Records++

			return writeRecord(w, key, value, all)
		}
	})
	if err != nil {
		return stats, fmt.Errorf("iterate store: %w", err)
	}

	_, err = fmt.Fprintf(w, "%s entries, %s records, %s\n",
		humanize.Comma(int64(stats.Entries)), humanize.Comma(int64(stats.Records)), humanize.Bytes(uint64(stats.Bytes)))

	return stats, err
}

func writeTestSet(w io.Writer, key string, value []byte) error {
	set, err := coverage.DecodeTestSet(value)
	if err != nil {
		_, err = fmt.Fprintf(w, "%s test set %s\n", key, modifiedColor.Sprintf("(corrupt: %v)", err))

		return err
	}

	_, err = fmt.Fprintf(w, "%s test set\n", key)
	if err != nil {
		return err
	}

	for _, test := range set.Tests() {
		_, err = fmt.Fprintf(w, "\t%s\n", test)
		if err != nil {
			return err
		}
	}

	return nil
}

func writeRunInfo(w io.Writer, key string, value []byte) error {
	info, err := coverage.DecodeRunInfo(value)
	if err != nil {
		_, err = fmt.Fprintf(w, "%s run %s\n", key, modifiedColor.Sprintf("(corrupt: %v)", err))

		return err
	}

	_, err = fmt.Fprintf(w, "%s run %s by %s, %s\n", key, info.RunID, info.Tool, humanize.Time(info.StartedAt))

	return err
}

func writeRecord(w io.Writer, key string, value []byte, all bool) error {
	record, err := coverage.DecodeRecord(value)
	if err != nil {
		_, err = fmt.Fprintf(w, "%s record %s\n", key, modifiedColor.Sprintf("(uninterpretable: %v)", err))

		return err
	}

	if record.Unusable {
		_, err = fmt.Fprintf(w, "%s record %s\n", key, skippedColor.Sprint("(unusable)"))

		return err
	}

	_, err = fmt.Fprintf(w, "%s record\n", key)
	if err != nil {
		return err
	}

	for _, name := range record.ModuleNames() {
		module := record.Modules[name]
		if module.FullyMissed() && !all {
			continue
		}

		_, err = fmt.Fprintf(w, "\t%s %s\n", module.File, FormatLines(module.ExecutedLines()))
		if err != nil {
			return err
		}
	}

	return nil
}
