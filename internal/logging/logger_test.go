package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"e":     Error,
		"WARN":  Warn,
		"info":  Info,
		"D":     Debug,
		"trace": MaxLevel,
		"5":     Level(5),
		"-2":    Error,
	} {
		level, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, level, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("10")
	assert.Error(t, err)
}

func TestLevelLetter(t *testing.T) {
	assert.Equal(t, byte('E'), Error.letter())
	assert.Equal(t, byte('D'), Debug.letter())
	assert.Equal(t, byte('7'), Level(7).letter())
	assert.Equal(t, "Warn", Warn.String())
	assert.Equal(t, "4", Level(4).String())
}

func TestTagDirective(t *testing.T) {
	DisableColor()
	var out bytes.Buffer
	root := &Logger{out: &destination{w: &out}}
	log := root.WithTag("tagdirective").WithLevel(Warn)

	log.Info("hidden")
	assert.Empty(t, out.String())

	require.NoError(t, ParseDirectives("tagdirective=debug"))
	log.Debug("frame %d", 7)
	assert.Contains(t, out.String(), "D/tagdirective[logger_test.go:")
	assert.True(t, strings.HasSuffix(out.String(), "frame 7\n"))

	assert.Error(t, ParseDirectives("tagdirective=chatty"))
}

func TestSetDestinationIsShared(t *testing.T) {
	DisableColor()
	var out bytes.Buffer
	root := &Logger{out: &destination{w: &bytes.Buffer{}}}
	child := root.WithTag("child").WithLevel(Info)

	root.SetDestination(&out)
	child.Warn("moved")
	assert.Contains(t, out.String(), "W/child")
	assert.Contains(t, out.String(), "moved")
}
