// Package addr defines the process-wide addressing scheme used once the
// hierarchy has been flattened: InstanceId, AbsoluteAddr, and the
// Region-qualified address SIR instructions operate on.
package addr

import (
	"fmt"

	"github.com/oisee/hdlsim/pkg/hdlir"
)

// InstanceId indexes an instance in the flattened hierarchy. The top
// module is instance 0.
type InstanceId int

const TopInstance InstanceId = 0

// AbsoluteAddr is the unit of schedulable state: one variable within one
// instance.
type AbsoluteAddr struct {
	Inst InstanceId
	Var  hdlir.VarID
}

func (a AbsoluteAddr) String() string {
	return fmt.Sprintf("i%d.v%d", a.Inst, a.Var)
}

// Region selects which memory-layout half a RegionedAbsoluteAddr names.
type Region uint8

const (
	Stable Region = iota
	Working
)

func (r Region) String() string {
	if r == Stable {
		return "stable"
	}
	return "working"
}

// RegionedAbsoluteAddr is the address form SIR Load/Store/Commit
// instructions carry.
type RegionedAbsoluteAddr struct {
	Region Region
	Addr   AbsoluteAddr
}
