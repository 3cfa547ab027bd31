package jit

import "math/big"

// TriggerKind selects which of spec.md §4.G's five edge-detection rules
// applies to one canonical trigger net. The kind is a property of how a
// RegPath references the net (as its clock, as an async reset, ...),
// not of the net itself, so it travels alongside a TriggerId rather than
// being stored on it.
type TriggerKind uint8

const (
	TriggerPosedge TriggerKind = iota
	TriggerNegedge
	TriggerAsyncHigh
	TriggerAsyncLow
	TriggerOther
)

// triggerHit applies one of the five rules to a variable's value before
// and after a write. Only bit 0 of old/new is consulted: trigger nets
// are always 1-bit clock/reset signals.
func triggerHit(kind TriggerKind, old, new *big.Int) bool {
	oldBit := old.Bit(0)
	newBit := new.Bit(0)
	switch kind {
	case TriggerPosedge:
		return oldBit == 0 && newBit == 1
	case TriggerNegedge:
		return oldBit == 1 && newBit == 0
	case TriggerAsyncHigh:
		return newBit == 1
	case TriggerAsyncLow:
		return newBit == 0
	default: // TriggerOther
		return old.Cmp(new) != 0
	}
}
