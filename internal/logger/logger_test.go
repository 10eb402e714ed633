package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]logrus.Level{
		"":        logrus.InfoLevel,
		"debug":   logrus.DebugLevel,
		" WARN ":  logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"trace":   logrus.TraceLevel,
		"error":   logrus.ErrorLevel,
		"panic":   logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, New(in).GetLevel(), in)
	}
}

func TestNewUsesJSON(t *testing.T) {
	_, ok := New("info").Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
