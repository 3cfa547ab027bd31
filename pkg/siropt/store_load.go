package siropt

import "github.com/oisee/hdlsim/pkg/sir"

// StoreLoadCoalescingPass forwards a Store's source register directly
// into a later Load of the exact same bits, skipping the memory
// round-trip, grounded on the corpus's "store_load_elimination" peephole
// pattern (pkg/optimizer/peephole.go): StoreVar addr,r1; LoadVar r2,addr
// -> keep the store, Move r2,r1. The Store itself is kept: its memory
// effect is still required for any load that follows an intervening
// write to an aliasing address, or for any consumer outside this block.
type StoreLoadCoalescingPass struct{}

func (p *StoreLoadCoalescingPass) Name() string { return "Store/Load Coalescing" }

func (p *StoreLoadCoalescingPass) Run(b *sir.BasicBlock) (bool, error) {
	changed := false
	for _, w := range barrierWindows(b.Instrs) {
		lo, hi := w[0], w[1]
		live := map[loadKey]sir.RegisterId{}
		for i := lo; i < hi; i++ {
			in := &b.Instrs[i]
			switch {
			case in.Op == sir.OpStore && !in.Offset.Dynamic:
				k := loadKey{mem: memKey{addr: in.Addr}, offset: in.Offset.Static, width: in.Width}
				for other := range live {
					if other.mem.addr == in.Addr {
						delete(live, other)
					}
				}
				live[k] = in.Src
			case in.Op == sir.OpStore:
				for k := range live {
					if k.mem.addr == in.Addr {
						delete(live, k)
					}
				}
			case in.Op == sir.OpLoad && !in.Offset.Dynamic:
				k := loadKey{mem: memKey{addr: in.Addr}, offset: in.Offset.Static, width: in.Width}
				if src, ok := live[k]; ok {
					*in = identityOf(in.Dst, src)
					changed = true
				}
			}
		}
	}
	return changed, nil
}
