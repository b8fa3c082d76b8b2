package sequence

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextRedemptionCodeShape(t *testing.T) {
	gen := NewCodeGenerator()
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		code, err := gen.NextRedemptionCode(context.Background())
		require.NoError(t, err)
		require.Regexp(t, `^MET-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, code)
		require.True(t, IsRedemptionCode(code))
		seen[code] = struct{}{}
	}
	require.Len(t, seen, 200)
}

func TestNextRedemptionCodeDeterministicSource(t *testing.T) {
	gen := NewCodeGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{0}, 64)))

	code, err := gen.NextRedemptionCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "MET-AAAA-AAAA-AAAA", code)
}

func TestNextRedemptionCodeExhaustedSource(t *testing.T) {
	gen := NewCodeGeneratorFrom(bytes.NewReader(nil))

	_, err := gen.NextRedemptionCode(context.Background())
	require.Error(t, err)
}

func TestIsRedemptionCode(t *testing.T) {
	require.False(t, IsRedemptionCode("MET-abcd-EFGH-1234"))
	require.False(t, IsRedemptionCode("XYZ-ABCD-EFGH-1234"))
	require.False(t, IsRedemptionCode(""))
}
