package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen",
	fx.Provide(NewSnowflakeNode, NewIDGenerator),
)

// IDGenerator hands out unique, time ordered identifiers for ledger rows.
type IDGenerator interface {
	NewID() string
}

func NewSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

type snowflakeGenerator struct {
	node *snowflake.Node
}

func NewIDGenerator(node *snowflake.Node) IDGenerator {
	return &snowflakeGenerator{node: node}
}

func (s *snowflakeGenerator) NewID() string {
	return s.node.Generate().String()
}
