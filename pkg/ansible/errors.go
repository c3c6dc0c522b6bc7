package ansible

import (
	"errors"
	"fmt"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

// ErrEnvironmentNameRequired is returned when a runner is built without an environment
var ErrEnvironmentNameRequired = errors.New("an environment name is required")

// EnvironmentDoesNotExistError is returned when an environment's inventory
// files were never generated on this machine
type EnvironmentDoesNotExistError struct {
	Name string
}

func (e *EnvironmentDoesNotExistError) Error() string {
	return fmt.Sprintf("the '%s' environment does not exist", e.Name)
}

// EmptyInventoryError is returned when a role that must have VMs has none
type EmptyInventoryError struct {
	Type types.InventoryType
}

func (e *EmptyInventoryError) Error() string {
	return fmt.Sprintf("the %s inventory is empty", e.Type)
}
