package presets

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacksonlevine/pictosend/config"
)

func TestPresets(t *testing.T) {
	require.Equal(t, []string{"public", "standalone"}, Options())

	conf, err := Get("standalone")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6969", conf.ListenAddr)
	require.Equal(t, config.DefaultConfig().MaxHistory, conf.MaxHistory)

	conf, err = Get("public")
	require.NoError(t, err)
	require.True(t, conf.CollectMetrics)
	require.Equal(t, "json", conf.LOGGING.Encoder)

	_, err = Get("mainnet")
	require.ErrorContains(t, err, "not registered")

	for _, name := range Options() {
		conf, err := Get(name)
		require.NoError(t, err)
		require.NoError(t, conf.Validate(), name)
	}
}
