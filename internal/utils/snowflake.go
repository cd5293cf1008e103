package utils

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out snowflake IDs for click events
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given datacenter and worker IDs.
// DatacenterID uses 5 bits (0-31), WorkerID uses 5 bits (0-31).
func NewIDGenerator(datacenterID, workerID int64) (*IDGenerator, error) {
	if datacenterID < 0 || datacenterID > 31 {
		return nil, fmt.Errorf("datacenter id %d out of range [0,31]", datacenterID)
	}
	if workerID < 0 || workerID > 31 {
		return nil, fmt.Errorf("worker id %d out of range [0,31]", workerID)
	}

	node, err := snowflake.NewNode((datacenterID << 5) | workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// Next returns a new unique ID
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
