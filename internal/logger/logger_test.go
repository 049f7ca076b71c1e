package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestJSONOutputCarriesParty(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Env: "production", Level: "info"}, &buf)

	zl := l.ForParty("Producer")
	zl.Debug().Msg("hidden")
	zl.Info().Str("op", "add-product").Msg("done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Producer", line["party"])
	assert.Equal(t, "add-product", line["op"])
	assert.Equal(t, "done", line["message"])
}
