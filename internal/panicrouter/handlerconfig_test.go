package panicrouter

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHandlerConfig_Fixture(t *testing.T) {
	data, err := os.ReadFile("testdata/handlers.yaml")
	require.NoError(t, err)

	cfg, err := ParseHandlerConfig(data)
	require.NoError(t, err)

	require.Equal(t, ActionDisengageAndReport, cfg[MonVinOor])
	require.Equal(t, ActionDisengageAndReport, cfg[MonTempOor])
	require.Equal(t, ActionReportOnly, cfg[LtcDataReadFail])
	require.Equal(t, ActionReportOnly, cfg[LtcHwStrapFail])
}

func TestParseHandlerConfig_UnknownNameSkipped(t *testing.T) {
	cfg, err := ParseHandlerConfig([]byte("faults:\n  NotARealCode: disengage-and-report\n"))
	require.NoError(t, err)
	require.Empty(t, cfg)
}

func TestParseHandlerConfig_Malformed(t *testing.T) {
	_, err := ParseHandlerConfig([]byte("faults: [not, a, map]"))
	require.Error(t, err)
}
