package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDGeneratorUnique(t *testing.T) {
	node, err := NewSnowflakeNode()
	require.NoError(t, err)
	ids := NewIDGenerator(node)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := ids.NewID()
		_, dup := seen[id]
		require.False(t, dup, id)
		seen[id] = struct{}{}
	}
}
