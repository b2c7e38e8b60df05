package recorder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/duvet/pkg/recorder"
)

func TestModuleFilter_Defaults(t *testing.T) {
	t.Parallel()

	filter, err := recorder.NewModuleFilter(recorder.FilterOptions{})
	require.NoError(t, err)

	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "app", File: "/src/app.py"}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "app"}), "no file")
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "os", File: "/lib/os.py", Preloaded: true}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "tests", File: "/src/tests.py", Test: true}))
}

func TestModuleFilter_PackagePrefix(t *testing.T) {
	t.Parallel()

	filter, err := recorder.NewModuleFilter(recorder.FilterOptions{Packages: []string{"app"}})
	require.NoError(t, err)

	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "app", File: "/a"}))
	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "app.models", File: "/a"}))
	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "app.models", File: "/a", Preloaded: true}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "application", File: "/a"}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "lib.app", File: "/a"}))
}

func TestModuleFilter_GoImportPaths(t *testing.T) {
	t.Parallel()

	filter, err := recorder.NewModuleFilter(recorder.FilterOptions{Packages: []string{"example.com/app"}})
	require.NoError(t, err)

	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "example.com/app/calc/calc.go", File: "/a"}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "example.com/apple/x.go", File: "/a"}))
}

func TestModuleFilter_TestModules(t *testing.T) {
	t.Parallel()

	filter, err := recorder.NewModuleFilter(recorder.FilterOptions{IncludeTests: true})
	require.NoError(t, err)

	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "tests", File: "/src/tests.py", Test: true}))
}

func TestModuleFilter_Exclude(t *testing.T) {
	t.Parallel()

	filter, err := recorder.NewModuleFilter(recorder.FilterOptions{
		Root:    "/src",
		Exclude: []string{"**/*_gen.go", "vendor/**"},
	})
	require.NoError(t, err)

	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "x", File: "/src/pkg/api_gen.go"}))
	assert.False(t, filter.Want(recorder.ModuleDescriptor{Name: "y", File: "/src/vendor/lib/lib.go"}))
	assert.True(t, filter.Want(recorder.ModuleDescriptor{Name: "z", File: "/src/pkg/api.go"}))

	_, err = recorder.NewModuleFilter(recorder.FilterOptions{Exclude: []string{"["}})
	require.Error(t, err)
}
