package runtime

import (
	"math/big"

	"golang.org/x/exp/slices"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/flatten"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/sir"
)

// Signal is a pre-resolved handle to one variable's STABLE-region slot,
// returned by Simulator.Signal so repeated Get/Set calls skip name
// resolution.
type Signal struct {
	addr      addr.AbsoluteAddr
	width     int
	fourState bool
}

// Event is a pre-resolved handle to one canonical clock/reset trigger net.
type Event struct {
	id   sir.TriggerId
	name string
}

// ID returns the dense trigger id backing e, for TickByID/TickByIDN.
func (e Event) ID() sir.TriggerId { return e.id }

func dottedName(instancePath map[addr.InstanceId]string, a addr.AbsoluteAddr, path string) string {
	base := instancePath[a.Inst]
	if base == "" {
		return path
	}
	return base + "." + path
}

func buildNameIndex(fd *flatten.Design) (map[string]addr.AbsoluteAddr, []string) {
	names := make(map[string]addr.AbsoluteAddr, len(fd.Vars))
	for a, v := range fd.Vars {
		names[dottedName(fd.InstancePath, a, v.Path)] = a
	}
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	slices.Sort(list)
	return names, list
}

// buildEventIndex maps every canonical trigger net to the dotted name of
// the signal at its address, when that address has one.
func buildEventIndex(fd *flatten.Design, names map[string]addr.AbsoluteAddr) (map[string]sir.TriggerId, []string) {
	addrToName := make(map[addr.AbsoluteAddr]string, len(names))
	for n, a := range names {
		addrToName[a] = n
	}
	out := map[string]sir.TriggerId{}
	for _, key := range fd.TriggerOrder {
		if n, ok := addrToName[key.Addr]; ok {
			if _, exists := out[n]; !exists {
				out[n] = fd.Triggers[key]
			}
		}
	}
	list := make([]string, 0, len(out))
	for n := range out {
		list = append(list, n)
	}
	slices.Sort(list)
	return out, list
}

func eventNameFor(evtList []string, eventNames map[string]sir.TriggerId, id sir.TriggerId) string {
	for _, n := range evtList {
		if eventNames[n] == id {
			return n
		}
	}
	return ""
}

// Signal resolves a dotted variable name (e.g. "top.child.q") to a handle.
func (s *Simulator) Signal(name string) (Signal, error) {
	a, ok := s.names[name]
	if !ok {
		return Signal{}, &hdlerr.InternalError{Detail: "unknown signal: " + name}
	}
	v := s.vars[a]
	return Signal{addr: a, width: v.Width, fourState: v.FourState}, nil
}

// Event resolves a dotted signal name known to be a canonical clock/reset
// net to an Event handle.
func (s *Simulator) Event(name string) (Event, error) {
	id, ok := s.eventNames[name]
	if !ok {
		return Event{}, &hdlerr.NotAnEventError{Name: name}
	}
	return Event{id: id, name: name}, nil
}

// Get reads sig's current STABLE value, masked to its width. For a
// four-state signal, any X bit reads as 0 in the returned integer; use
// GetFourState to also recover the X mask.
func (s *Simulator) Get(sig Signal) *big.Int {
	v, _ := s.getRaw(sig)
	return v
}

// GetFourState reads sig's value and X-mask (mask is nil for a two-state
// signal).
func (s *Simulator) GetFourState(sig Signal) (value, mask *big.Int) {
	return s.getRaw(sig)
}

func (s *Simulator) getRaw(sig Signal) (*big.Int, *big.Int) {
	slot := s.layout.Slot(sig.addr)
	base := slot.StableOffset
	v := readBitsAt(s.mem, base, 0, sig.width)
	if !sig.fourState {
		return v, nil
	}
	m := readBitsAt(s.mem, base+valueBytes(slot), 0, sig.width)
	return v, m
}

// readBitsAt and writeBitsAt mirror pkg/jit's bit-accurate memory path
// (jit.compileLoad/compileStore's unexported helpers of the same name):
// a closures backend has no native word to align to, so every access goes
// through the same bit-at-a-time path regardless of alignment.
func readBitsAt(mem []byte, baseByte, bitOffset, width int) *big.Int {
	result := new(big.Int)
	for i := 0; i < width; i++ {
		g := bitOffset + i
		byteIdx := baseByte + g/8
		if byteIdx < 0 || byteIdx >= len(mem) {
			continue
		}
		if mem[byteIdx]&(1<<uint(g%8)) != 0 {
			result.SetBit(result, i, 1)
		}
	}
	return result
}

func writeBitsAt(mem []byte, baseByte, bitOffset, width int, v *big.Int) {
	for i := 0; i < width; i++ {
		g := bitOffset + i
		byteIdx := baseByte + g/8
		if byteIdx < 0 || byteIdx >= len(mem) {
			continue
		}
		bit := uint(g % 8)
		if v.Bit(i) == 1 {
			mem[byteIdx] |= 1 << bit
		} else {
			mem[byteIdx] &^= 1 << bit
		}
	}
}

func valueBytes(slot *layout.VarSlot) int { return (slot.Width + 7) / 8 }

// triggerBitSet mirrors pkg/jit's own triggerHit check: the compiled
// functions themselves set a bit when their edge detector fires (see
// jit.setTriggerBit), so the runtime only ever needs to read and clear the
// bitset, never set a bit directly.
func triggerBitSet(mem []byte, triggerBase, id int) bool {
	return mem[triggerBase+id/8]&(1<<uint(id%8)) != 0
}
