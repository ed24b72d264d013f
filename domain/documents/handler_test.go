package documents

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/pagemill/pkg/apperror"
)

func TestParseMetadata(t *testing.T) {
	metadata, err := parseMetadata(`{"source":"crm","lang":"en"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "crm", "lang": "en"}, metadata)
}

func TestParseMetadataEmpty(t *testing.T) {
	metadata, err := parseMetadata("")
	require.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestParseMetadataRejectsNonStringValues(t *testing.T) {
	for _, raw := range []string{
		`{"count": 3}`,
		`{"nested": {"a": "b"}}`,
		`["not", "an", "object"]`,
		`not json`,
	} {
		_, err := parseMetadata(raw)
		require.Error(t, err, raw)

		appErr, ok := err.(*apperror.Error)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	}
}
