package coverage

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/duvet/pkg/persist"
)

// Record decoding errors. Either one means the record cannot be interpreted.
var (
	ErrCorruptRecord      = errors.New("corrupt coverage record")
	ErrUnsupportedVersion = errors.New("unsupported coverage record version")
)

type wireModule struct {
	Name       string
	File       string
	Executable PackedLines
	Excluded   PackedLines
	Missed     PackedLines
}

type wireRecord struct {
	Modules  []wireModule
	Version  int
	Unusable bool
}

var (
	recordValue  = persist.NewValue[wireRecord](persist.NewGobCodec())
	testSetValue = persist.NewValue[[][]string](persist.NewCompactJSONCodec())
	runValue     = persist.NewValue[RunInfo](persist.NewCompactJSONCodec())
)

// EncodeRecord serializes a record for the store.
func EncodeRecord(record *Record) ([]byte, error) {
	wire := wireRecord{Version: record.Version, Unusable: record.Unusable}
	if wire.Version == 0 {
		wire.Version = RecordVersion
	}

	for _, name := range record.ModuleNames() {
		module := record.Modules[name]

		packed, err := packModule(name, module)
		if err != nil {
			return nil, err
		}

		wire.Modules = append(wire.Modules, packed)
	}

	data, err := recordValue.Encode(&wire)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	return data, nil
}

// DecodeRecord restores a record. Unknown versions yield ErrUnsupportedVersion,
// malformed payloads ErrCorruptRecord.
func DecodeRecord(data []byte) (*Record, error) {
	wire, err := recordValue.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	if wire.Version != RecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, wire.Version)
	}

	if wire.Unusable {
		return UnusableRecord(), nil
	}

	record := NewRecord()

	for _, packed := range wire.Modules {
		module, err := unpackModule(packed)
		if err != nil {
			return nil, fmt.Errorf("%w: module %s: %w", ErrCorruptRecord, packed.Name, err)
		}

		record.Modules[packed.Name] = module
	}

	return record, nil
}

func packModule(name string, module ModuleCoverage) (wireModule, error) {
	wire := wireModule{Name: name, File: module.File}

	var err error

	wire.Executable, err = PackLines(module.Executable)
	if err != nil {
		return wireModule{}, fmt.Errorf("pack %s executable lines: %w", name, err)
	}

	wire.Excluded, err = PackLines(module.Excluded)
	if err != nil {
		return wireModule{}, fmt.Errorf("pack %s excluded lines: %w", name, err)
	}

	wire.Missed, err = PackLines(module.Missed)
	if err != nil {
		return wireModule{}, fmt.Errorf("pack %s missed lines: %w", name, err)
	}

	return wire, nil
}

func unpackModule(wire wireModule) (ModuleCoverage, error) {
	module := ModuleCoverage{File: wire.File}

	var err error

	module.Executable, err = wire.Executable.Unpack()
	if err != nil {
		return ModuleCoverage{}, err
	}

	module.Excluded, err = wire.Excluded.Unpack()
	if err != nil {
		return ModuleCoverage{}, err
	}

	module.Missed, err = wire.Missed.Unpack()
	if err != nil {
		return ModuleCoverage{}, err
	}

	return module, nil
}

// TestSet is the sorted set of tests recorded at one commit.
type TestSet struct {
	tests []TestID
}

// Contains reports whether test is in the set.
func (s *TestSet) Contains(test TestID) bool {
	_, found := slices.BinarySearchFunc(s.tests, test, TestID.Compare)

	return found
}

// Add inserts test and reports whether the set changed.
func (s *TestSet) Add(test TestID) bool {
	idx, found := slices.BinarySearchFunc(s.tests, test, TestID.Compare)
	if found {
		return false
	}

	s.tests = slices.Insert(s.tests, idx, NewTestID(test...))

	return true
}

// Len returns the number of tests.
func (s *TestSet) Len() int {
	return len(s.tests)
}

// Tests returns the tests in ascending order.
func (s *TestSet) Tests() []TestID {
	return slices.Clone(s.tests)
}

// EncodeTestSet serializes a test set as a JSON array of arrays.
func EncodeTestSet(set *TestSet) ([]byte, error) {
	parts := make([][]string, 0, len(set.tests))
	for _, test := range set.tests {
		parts = append(parts, test)
	}

	data, err := testSetValue.Encode(&parts)
	if err != nil {
		return nil, fmt.Errorf("encode test set: %w", err)
	}

	return data, nil
}

// DecodeTestSet restores a test set.
func DecodeTestSet(data []byte) (*TestSet, error) {
	parts, err := testSetValue.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode test set: %w", err)
	}

	set := &TestSet{}
	for _, test := range *parts {
		set.Add(TestID(test))
	}

	return set, nil
}

// RunInfo marks the most recent recording run at a commit.
type RunInfo struct {
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
	Tool      string    `json:"tool"`
}

// EncodeRunInfo serializes a run marker.
func EncodeRunInfo(info *RunInfo) ([]byte, error) {
	data, err := runValue.Encode(info)
	if err != nil {
		return nil, fmt.Errorf("encode run info: %w", err)
	}

	return data, nil
}

// DecodeRunInfo restores a run marker.
func DecodeRunInfo(data []byte) (*RunInfo, error) {
	info, err := runValue.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode run info: %w", err)
	}

	return info, nil
}
