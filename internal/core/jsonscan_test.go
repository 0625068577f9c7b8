package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
			ok:   true,
		},
		{
			name: "markdown fenced",
			in:   "Here is the result:\n```json\n{\"is_payment\": true}\n```\nDone.",
			want: `{"is_payment": true}`,
			ok:   true,
		},
		{
			name: "brace inside string literal",
			in:   `{"store_regex": "매장\\{|(\\S+)", "n": 1}`,
			want: `{"store_regex": "매장\\{|(\\S+)", "n": 1}`,
			ok:   true,
		},
		{
			name: "escaped quote inside string",
			in:   `{"s": "say \"}\" loudly"}`,
			want: `{"s": "say \"}\" loudly"}`,
			ok:   true,
		},
		{
			name: "nested objects",
			in:   `prefix {"a": {"b": 2}} suffix`,
			want: `{"a": {"b": 2}}`,
			ok:   true,
		},
		{
			name: "unbalanced",
			in:   `{"a": 1`,
			ok:   false,
		},
		{
			name: "no object at all",
			in:   "plain prose",
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstJSONObject(tt.in)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstJSONArray(t *testing.T) {
	got, ok := FirstJSONArray("answer:\n[{\"no\":1},{\"no\":2}]\nthanks")
	require.True(t, ok)
	assert.Equal(t, `[{"no":1},{"no":2}]`, got)

	_, ok = FirstJSONArray(`[1, 2`)
	assert.False(t, ok)
}

func TestFirstJSONArraySkipsBracketsInStrings(t *testing.T) {
	got, ok := FirstJSONArray(`[{"card_regex": "\\[(\\S+)\\]"}]`)
	require.True(t, ok)
	assert.Equal(t, `[{"card_regex": "\\[(\\S+)\\]"}]`, got)
}
