package redis

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsClientWhenUnreachable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetOutput(io.Discard)

	client := New(Config{Addr: "127.0.0.1:1"}, logger)
	require.NotNil(t, client)
	defer client.Close()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)

	assert.Error(t, client.Ping(context.Background()).Err())
}
