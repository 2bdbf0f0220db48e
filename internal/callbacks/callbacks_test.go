package callbacks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResilient_WrapLLM_PassesThroughSuccess(t *testing.T) {
	r := NewResilient("test", Config{})
	wrapped := r.WrapLLM(func(ctx context.Context, sys, user string) (string, error) {
		return "ok:" + user, nil
	})

	out, err := wrapped(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", out)
	assert.Equal(t, "closed", r.State())
}

func TestResilient_OpensAfterConsecutiveFailures(t *testing.T) {
	r := NewResilient("test", Config{MaxFailures: 2})
	boom := errors.New("boom")
	wrapped := r.WrapLLM(func(ctx context.Context, sys, user string) (string, error) {
		return "", boom
	})

	_, err := wrapped(context.Background(), "", "")
	assert.ErrorIs(t, err, boom)
	_, err = wrapped(context.Background(), "", "")
	assert.ErrorIs(t, err, boom)

	_, err = wrapped(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", r.State())
}

func TestResilient_WrapEmbedding_PassesThroughSuccess(t *testing.T) {
	r := NewResilient("embed", Config{})
	wrapped := r.WrapEmbedding(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})

	out, err := wrapped(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out)
}
