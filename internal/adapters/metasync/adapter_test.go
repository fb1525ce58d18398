package metasync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetasyncAdapter(t *testing.T) {
	a, err := NewMetasyncAdapter("https://api.example.com", "api.example.com")

	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "https://api.example.com", a.baseURL)
}

func TestNewMetasyncAdapterRejectsEmptyDomainGlob(t *testing.T) {
	a, err := NewMetasyncAdapter("https://api.example.com", "")

	require.Error(t, err)
	assert.Nil(t, a)
}
