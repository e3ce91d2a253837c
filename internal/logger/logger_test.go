package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestComponentLoggerFollowsOutput(t *testing.T) {
	component := GetForComponent("test_component")

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(consoleWriter(os.Stdout))

	component.Warn().Uint64("amount", 42).Msg("rejected")

	assert.Contains(t, buf.String(), `"component":"test_component"`)
	assert.Contains(t, buf.String(), `"amount":42`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}
