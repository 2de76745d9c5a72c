package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitbus/config"
)

func TestNew(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "debug"
	cfg.Format = "json"

	log, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := config.Default().Log
	cfg.File = filepath.Join(t.TempDir(), "logs", "unitbus.log")

	log, err := New(cfg)
	require.NoError(t, err)
	log.WithField("link", "abc").Info("link started")

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "link started")
	assert.Contains(t, string(data), "link=abc")
}

func TestNewRejectsBadSettings(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "chatty"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = config.Default().Log
	cfg.Format = "xml"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().WithField("k", "v").Error("dropped")
	})
}
