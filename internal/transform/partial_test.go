package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPartial() *Partial {
	toStatus, fromStatus := EnumCodec(map[any]any{true: "active", false: "inactive"})
	return NewPartial(
		Field{Canonical: "first_name", Provider: "first_name"},
		Field{Canonical: "surname", Provider: "last_name"},
		Field{Canonical: "birth_date", Provider: "birthdate"},
		Field{Canonical: "is_active", Provider: "status", ToProvider: toStatus, FromProvider: fromStatus},
	)
}

func TestPartial_RoundTrip(t *testing.T) {
	p := testPartial()

	payloads := []map[string]any{
		{"first_name": "Ada"},
		{"last_name": "Lovelace", "status": "inactive"},
		{"first_name": "A", "last_name": "B", "birthdate": "1815-12-10", "status": "active"},
		{"birthdate": nil},
		{},
	}

	for _, payload := range payloads {
		canonical, err := p.Decode(payload)
		require.NoError(t, err)

		encoded, err := p.Encode(canonical)
		require.NoError(t, err)
		assert.Equal(t, payload, encoded)

		again, err := p.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, canonical, again)
	}
}

func TestPartial_Encode_UnknownField(t *testing.T) {
	_, err := testPartial().Encode(map[string]any{"shoe_size": 9})
	assert.Error(t, err)
}

func TestPartial_Decode_IgnoresUnmappedAndRejectsBadEnum(t *testing.T) {
	p := testPartial()

	out, err := p.Decode(map[string]any{"first_name": "A", "avatar": "x.png"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first_name": "A"}, out)

	_, err = p.Decode(map[string]any{"status": "pending"})
	assert.Error(t, err)
}
