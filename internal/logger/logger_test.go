package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetup_Levels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	assert.Equal(t, zerolog.DebugLevel, Setup("debug", false))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.Equal(t, zerolog.InfoLevel, Setup("loud", false))
	assert.Equal(t, zerolog.InfoLevel, Setup("", false))
}
