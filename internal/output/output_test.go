package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyflect/keyflect/internal/keycodes"
	"github.com/keyflect/keyflect/internal/resolver"
)

func TestNoEmitSinkDiscardsEverything(t *testing.T) {
	var sink Sink = NoEmitSink{}
	err := sink.Write([]resolver.ResolvedEvent{
		{Key: keycodes.A, Value: resolver.Down},
		{Key: keycodes.A, Value: resolver.Up},
	})
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}
