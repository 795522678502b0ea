package dag

import (
	"fmt"

	"github.com/cathedral-fabric/fabric/internal/kernel"
)

var errCycle = fmt.Errorf("dag: graph contains a cycle")

func errUnknownNode(id kernel.ID) error {
	return fmt.Errorf("dag: edge references unknown node %s", id)
}
