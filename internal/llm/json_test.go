package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"isValid":true}`, `{"isValid":true}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Claro: {"a":{"b":"}"}} listo`, `{"a":{"b":"}"}}`},
		{"skips invalid first brace", `{not json} then {"ok":true}`, `{"ok":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := ExtractJSONObject(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestExtractJSONObject_Malformed(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"open": true`, "[1,2,3]"} {
		_, err := ExtractJSONObject(in)
		assert.True(t, errors.Is(err, ErrMalformedModelOutput), in)
	}
}

func TestDecodeJSONObject(t *testing.T) {
	var v struct {
		Issues []string `json:"issues"`
	}
	require.NoError(t, DecodeJSONObject(`resultado: {"issues":["x"]}`, &v))
	assert.Equal(t, []string{"x"}, v.Issues)

	var wrong struct {
		Issues int `json:"issues"`
	}
	err := DecodeJSONObject(`{"issues":["x"]}`, &wrong)
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}
