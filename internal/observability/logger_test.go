package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/imrishuroy/marketplace-orderflow/internal/config"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud", nil)
	assert.Error(t, err)
}

func TestSetup_WithoutEndpointIsLocalOnly(t *testing.T) {
	tel, err := Setup(context.Background(), &config.Config{LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, tel.Logger)
	require.NotNil(t, tel.TracerProvider)
	assert.True(t, tel.Logger.Core().Enabled(zapcore.DebugLevel), "debug level should be enabled")
	assert.NoError(t, tel.Shutdown(context.Background()))
}
