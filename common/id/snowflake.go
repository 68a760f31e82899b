package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node    *snowflake.Node
	once    sync.Once
	initErr error
)

// Init initializes the Snowflake node. Only the first call takes effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New generates a time-ordered id. Init must have succeeded.
func New() snowflake.ID {
	if node == nil {
		panic(fmt.Sprintf("id: New called before Init (err=%v)", initErr))
	}
	return node.Generate()
}

// NewString is New in base58, short enough for log lines.
func NewString() string {
	return New().Base58()
}
