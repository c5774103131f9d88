package logger

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	})
	return &buf
}

func TestStdLoggerLevels(t *testing.T) {
	buf := captureLog(t)
	l := NewStdLogger(false, NoticeLevel)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Notice("notice %d", 3)
	l.ErrorWithUser("alice", "failed %s", "deposit")

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[NOTICE] notice 3")
	assert.Contains(t, out, "[ERROR]  [alice] failed deposit")
}

func TestUserPrefix(t *testing.T) {
	l := NewStdLogger(false, DebugLevel)
	assert.Equal(t, "", l.userPrefix(""))
	assert.Equal(t, "[bob] ", l.userPrefix("bob"))
}

func TestUserIDIsNotAFormat(t *testing.T) {
	buf := captureLog(t)
	l := NewStdLogger(false, DebugLevel)

	l.InfoWithUser("50%off", "deposited %s", "10 USDC")
	assert.Contains(t, buf.String(), "[INFO]   [50%off] deposited 10 USDC")
	assert.NotContains(t, buf.String(), "%!")
}
