package siropt

import "github.com/oisee/hdlsim/pkg/sir"

// loadKey identifies a load precisely enough to prove two loads read the
// same bits: same region-qualified address, same static bit offset, same
// width. A dynamic-offset load is never cached — two loads through the
// same offset register could still read different cells if something
// rebound that register in between.
type loadKey struct {
	mem    memKey
	offset int
	width  int
}

// RedundantLoadEliminationPass rewrites a second Load of bits already
// held in a live register into a register copy, grounded on the
// corpus's "redundant_load" peephole pattern
// (pkg/optimizer/peephole.go): LoadVar r1,x; LoadVar r2,x -> keep r1,
// Move r2,r1.
type RedundantLoadEliminationPass struct{}

func (p *RedundantLoadEliminationPass) Name() string { return "Redundant Load Elimination" }

func (p *RedundantLoadEliminationPass) Run(b *sir.BasicBlock) (bool, error) {
	changed := false
	for _, w := range barrierWindows(b.Instrs) {
		lo, hi := w[0], w[1]
		live := map[loadKey]sir.RegisterId{}
		for i := lo; i < hi; i++ {
			in := &b.Instrs[i]
			if in.Op == sir.OpStore {
				for k := range live {
					if k.mem.addr == in.Addr {
						delete(live, k)
					}
				}
				continue
			}
			if in.Op != sir.OpLoad || in.Offset.Dynamic {
				continue
			}
			k := loadKey{mem: memKey{addr: in.Addr}, offset: in.Offset.Static, width: in.Width}
			if src, ok := live[k]; ok {
				*in = identityOf(in.Dst, src)
				changed = true
				continue
			}
			live[k] = in.Dst
		}
	}
	return changed, nil
}
