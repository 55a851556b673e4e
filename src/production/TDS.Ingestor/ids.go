package tdsingestor

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out reading ids. Ids must be unique and grow with generation order.
type IDGenerator interface {
	NextID() int64
}

// SnowflakeIDs generates time-ordered 63-bit ids for one ingestor node
type SnowflakeIDs struct {
	node *snowflake.Node
}

func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}
