package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndOmitsWhitespace(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": 1,
		"apple": true,
		"mango": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":true,"mango":"x","zebra":1}`, string(got))
}

func TestMarshalCanonical_NumbersAreDeterministic(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"whole": 4.0,
		"frac":  2.5,
		"int":   int64(7),
		"neg":   -1.25,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"frac":2.5,"int":7,"neg":-1.25,"whole":4}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("a < b && c > d")
	require.NoError(t, err)
	assert.Equal(t, `"a < b && c > d"`, string(got))
}

func TestMarshalCanonical_NFCNormalizesStrings(t *testing.T) {
	// 'e' plus combining acute must serialize identically to the
	// precomposed form.
	composed, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_ControlCharactersEscaped(t *testing.T) {
	got, err := MarshalCanonical("line1\nline2\x01")
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\u0001"`, string(got))
}

func TestMarshalCanonical_NullAndNested(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"outer": []any{nil, map[string]any{"b": 1, "a": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"outer":[null,{"a":2,"b":1}]}`, string(got))
}

func TestMarshalCanonical_RejectsUnknownTypes(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}
