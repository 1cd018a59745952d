package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		jinaKey  string
		openKey  string
		want     string
	}{
		{"explicit provider wins", "OpenAI", "j", "", ProviderOpenAI},
		{"jina key", "", "j", "o", ProviderJina},
		{"openai key", "", "", "o", ProviderOpenAI},
		{"nothing set", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openKey)
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Run("local fallback", func(t *testing.T) {
		clearEnv(t)
		emb, err := NewFromEnv()
		require.NoError(t, err)
		defer emb.Close()

		assert.Equal(t, ProviderLocal, emb.Provider())
		assert.Equal(t, LocalDimension, emb.Dimension())
	})

	t.Run("jina from key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvJinaAPIKey, "test-key")
		emb, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderJina, emb.Provider())
		assert.Equal(t, JinaDimension, emb.Dimension())
	})

	t.Run("explicit provider without key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvProvider, ProviderOpenAI)
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvProvider, "bogus")
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestNew(t *testing.T) {
	clearEnv(t)

	emb, err := New(Config{Provider: ProviderLocal, Dimension: 64, CacheSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 64, emb.Dimension())

	emb, err = New(Config{Provider: ProviderOpenAI, APIKey: "k", Model: "text-embedding-3-large", Dimension: 3072})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-large", emb.Model())
	assert.Equal(t, 3072, emb.Dimension())

	emb, err = New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())
}
