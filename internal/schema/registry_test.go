package schema

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	s, err := r.Register("player", playerDefinition())
	require.NoError(t, err)

	got, err := r.Get("player")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistry_DuplicateSchema(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("player", playerDefinition())
	require.NoError(t, err)

	_, err = r.Register("player", Definition{{Name: "x", Type: Boolean}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrDuplicateSchema))

	// The first definition is kept.
	s, err := r.Get("player")
	require.NoError(t, err)
	assert.True(t, s.Has("sawFreq"))
}

func TestRegistry_InvalidDefinitionNotRegistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("bad", Definition{{Name: "a"}})
	assert.True(t, errors.Is(err, ir.ErrInvalidDefinition))

	_, err = r.Get("bad")
	assert.True(t, errors.Is(err, ir.ErrUnknownSchema))
}

func TestRegistry_UnknownSchema(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("globals")
	require.Error(t, err)
	assert.Equal(t, ir.CodeUnknownSchema, ir.CodeOf(err))
}

func TestRegistry_NamesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"player", "globals", "cue"} {
		_, err := r.Register(name, Definition{{Name: "x", Type: Boolean}})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"player", "globals", "cue"}, r.Names())
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("player", playerDefinition())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get("player")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
