// Package layout assigns byte offsets to every variable's stable and
// working slots and reserves the trigger-bit bitset (spec component K),
// producing the single contiguous buffer shape spec.md §3 describes:
//
//	[ stable region: per-var offsets ]
//	[ working region: per-var offsets (subset of variables) ]
//	[ triggered-bits bitset: ceil(num_events/8) bytes, word-aligned ]
package layout

import "github.com/oisee/hdlsim/pkg/addr"

const wordSize = 8 // bytes; matches the JIT's 64-bit chunking (spec.md §4.G)

func align(off int) int {
	if r := off % wordSize; r != 0 {
		off += wordSize - r
	}
	return off
}

// SlotSize returns the number of bytes one variable's value occupies:
// 2*ceil(width/8) for a four-state variable (value bytes then an
// equal-sized X-mask), ceil(width/8) for two-state.
func SlotSize(width int, fourState bool) int {
	bytes := (width + 7) / 8
	if fourState {
		bytes *= 2
	}
	return bytes
}

// VarSlot records where one variable lives in the buffer.
type VarSlot struct {
	Addr          addr.AbsoluteAddr
	Width         int
	FourState     bool
	StableOffset  int // byte offset in the stable region
	HasWorking    bool
	WorkingOffset int // byte offset in the working region; valid iff HasWorking
}

// Layout is the finished memory-layout descriptor.
type Layout struct {
	Slots       map[addr.AbsoluteAddr]*VarSlot
	StableBase  int // always 0
	StableSize  int
	WorkingBase int
	WorkingSize int
	TriggerBase int
	TriggerSize int // ceil(numEvents/8), word-aligned
	TotalSize   int
	NumEvents   int
}

// Builder accumulates variable slots before Build finalizes offsets.
type Builder struct {
	stableOff  int
	workingOff int
	slots      map[addr.AbsoluteAddr]*VarSlot
	order      []addr.AbsoluteAddr
}

// NewBuilder creates an empty layout builder.
func NewBuilder() *Builder {
	return &Builder{slots: make(map[addr.AbsoluteAddr]*VarSlot)}
}

func (b *Builder) slot(a addr.AbsoluteAddr, width int, fourState bool) *VarSlot {
	s, ok := b.slots[a]
	if !ok {
		s = &VarSlot{Addr: a, Width: width, FourState: fourState, StableOffset: -1, WorkingOffset: -1}
		b.slots[a] = s
		b.order = append(b.order, a)
	}
	return s
}

// AddStable reserves a stable-region slot for a (idempotent).
func (b *Builder) AddStable(a addr.AbsoluteAddr, width int, fourState bool) {
	s := b.slot(a, width, fourState)
	if s.StableOffset >= 0 {
		return
	}
	s.StableOffset = align(b.stableOff)
	b.stableOff = s.StableOffset + SlotSize(width, fourState)
}

// AddWorking reserves a working-region slot for a, used only by
// variables a SIR program actually writes there (flip-flop outputs and
// their feedback, per spec.md §3).
func (b *Builder) AddWorking(a addr.AbsoluteAddr, width int, fourState bool) {
	s := b.slot(a, width, fourState)
	if s.HasWorking {
		return
	}
	s.HasWorking = true
	s.WorkingOffset = align(b.workingOff)
	b.workingOff = s.WorkingOffset + SlotSize(width, fourState)
}

// Build finalizes the layout for a design with numEvents canonical
// trigger nets.
func (b *Builder) Build(numEvents int) *Layout {
	stableSize := align(b.stableOff)
	workingBase := stableSize
	workingSize := align(b.workingOff)
	triggerBase := workingBase + workingSize
	triggerSize := align((numEvents + 7) / 8)

	for _, a := range b.order {
		s := b.slots[a]
		if s.HasWorking {
			s.WorkingOffset += workingBase
		}
	}

	return &Layout{
		Slots:       b.slots,
		StableBase:  0,
		StableSize:  stableSize,
		WorkingBase: workingBase,
		WorkingSize: workingSize,
		TriggerBase: triggerBase,
		TriggerSize: triggerSize,
		TotalSize:   triggerBase + triggerSize,
		NumEvents:   numEvents,
	}
}

// Slot returns the slot for a, or nil if it was never reserved.
func (l *Layout) Slot(a addr.AbsoluteAddr) *VarSlot { return l.Slots[a] }
