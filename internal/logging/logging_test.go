package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regimen/config"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("disease", "flu").Msg("visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"disease":"flu"`)
	require.Contains(t, out, `"level":"warn"`)
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("console line")
	require.Contains(t, buf.String(), "console line")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestLokiRequiresURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}})
	require.Error(t, err)
}

func TestLokiLabels(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": "regimen"}, lokiLabels(nil))
	require.Equal(t, model.LabelSet{"env": "test"}, lokiLabels(map[string]string{"env": "test"}))
}
