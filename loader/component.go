package loader

import (
	"github.com/google/uuid"

	"github.com/avisene/dspload/pkg/types"
)

// Driver describes one loaded module to the generic component framework so
// the rest of the firmware can instantiate it.
type Driver struct {
	UUID   uuid.UUID
	Entry  types.EntryPoint
	Module types.ModuleID
}

// DriverRegistry is the one-way interface into the component framework.
// Implementations live outside this core.
type DriverRegistry interface {
	Register(Driver) error
}
