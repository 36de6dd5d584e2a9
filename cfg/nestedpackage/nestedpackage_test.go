// SPDX-License-Identifier: MIT

package nestedpackage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statewire/statewire/cfg"
)

func TestMustGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cfg/nestedpackage: {aa: yy}\n"), 0o600))
	cfg.MustInit(path)

	type testCfg struct{ AA string }
	require.Equal(t, "yy", cfg.MustGet[testCfg]().AA)
}
