package secure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "api_token", data: "ghp_abcdefghijklmnop"},
		{name: "empty", data: ""},
		{name: "binary", data: string([]byte{0x00, 0xFF, 0x10, 0x20})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := NewBufferFromString(tt.data)
			defer buf.Destroy()

			assert.Equal(t, len(tt.data), buf.Size())
			got, err := buf.Reveal()
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestBuffer_Open(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("super-secret-data"))
	defer buf.Destroy()

	locked, err := buf.Open()
	require.NoError(t, err)
	defer locked.Destroy()

	assert.Equal(t, "super-secret-data", string(locked.Bytes()))
}

func TestBuffer_WipesSource(t *testing.T) {
	t.Parallel()

	src := []byte("wipe-me")
	buf := NewBuffer(src)
	defer buf.Destroy()

	assert.Equal(t, make([]byte, len(src)), src)
}

func TestBuffer_Destroy(t *testing.T) {
	t.Parallel()

	buf := NewBufferFromString("secret")
	buf.Destroy()
	buf.Destroy()

	_, err := buf.Open()
	assert.ErrorIs(t, err, ErrDestroyed)

	_, err = buf.Reveal()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestBuffer_ConcurrentReveal(t *testing.T) {
	t.Parallel()

	buf := NewBufferFromString("shared-secret")
	defer buf.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := buf.Reveal()
			assert.NoError(t, err)
			assert.Equal(t, "shared-secret", got)
		}()
	}
	wg.Wait()
}
