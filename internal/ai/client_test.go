package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/ragkb/internal/model"
)

type staticSource struct {
	p   *model.Provider
	err error
}

func (s *staticSource) GetEnabled(ctx context.Context) (*model.Provider, error) {
	return s.p, s.err
}

func ollamaProvider(id string, mtime int64) *model.Provider {
	return &model.Provider{ID: id, Type: model.ProviderTypeOllama, Model: "nomic", Dimensions: 3, Endpoint: "http://127.0.0.1:1", Mtime: mtime}
}

func TestClientFactory_Resolve(t *testing.T) {
	enabled := ollamaProvider("enabled", 1)
	explicit := ollamaProvider("explicit", 1)
	f := NewClientFactory(&staticSource{p: enabled})

	c, err := f.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "enabled", c.Provider().ID)
	require.Equal(t, 3, c.Dimensions())

	c, err = f.Resolve(context.Background(), explicit)
	require.NoError(t, err)
	require.Equal(t, "explicit", c.Provider().ID)
}

func TestClientFactory_NoProvider(t *testing.T) {
	f := NewClientFactory(&staticSource{})
	_, err := f.Resolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoProvider)

	f = NewClientFactory(nil)
	_, err = f.Resolve(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoProvider)

	boom := errors.New("db down")
	f = NewClientFactory(&staticSource{err: boom})
	_, err = f.Resolve(context.Background(), nil)
	require.ErrorIs(t, err, boom)
}

func TestClientFactory_FailsFastOnConfig(t *testing.T) {
	f := NewClientFactory(nil)
	_, err := f.Resolve(context.Background(), &model.Provider{ID: "x", Type: model.ProviderTypeOpenAI, Model: "m", Dimensions: 3})
	require.True(t, IsConfiguration(err))
}

type countingAdapter struct {
	IEmbedProvider
}

func TestClientFactory_CachesPerMtime(t *testing.T) {
	built := 0
	f := NewClientFactory(nil, WithDecorators(func(p *model.Provider, next IEmbedProvider) IEmbedProvider {
		built++
		return &countingAdapter{IEmbedProvider: next}
	}))
	p := ollamaProvider("p1", 1)
	c1, err := f.Resolve(context.Background(), p)
	require.NoError(t, err)
	c2, err := f.Resolve(context.Background(), p)
	require.NoError(t, err)
	require.Same(t, c1.adapter, c2.adapter)
	require.Equal(t, 1, built)

	p2 := ollamaProvider("p1", 2)
	c3, err := f.Resolve(context.Background(), p2)
	require.NoError(t, err)
	require.NotSame(t, c1.adapter, c3.adapter)
	require.Equal(t, 2, built)

	f.Invalidate("p1")
	_, err = f.Resolve(context.Background(), p2)
	require.NoError(t, err)
	require.Equal(t, 3, built)
}
