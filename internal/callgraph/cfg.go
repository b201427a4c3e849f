package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"rvtrace/internal/disasm"
)

// BuildCFG constructs a lattice.CFGGraph from disassembled functions.
// Functions whose instruction stream is empty are skipped.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		if len(f.Insts) == 0 {
			continue
		}
		lcfg, _ := BuildFuncCFG(f.Name, f.Insts, f.CallEdges)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-function lattice.FuncCFG from instructions and
// call edges. The block count lets callers drop trivial functions.
func BuildFuncCFG(name string, insts []disasm.Inst, edges []disasm.CallEdge) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(name, insts)
	return convertFuncCFG(&dcfg, edges), len(dcfg.Blocks)
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG, attaching each
// call edge to the block holding its call site.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			e, ok := edgeByPC[dcfg.Insts[idx].Addr]
			if !ok {
				continue
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx,
				Callee: calleeLabel(e),
			})
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// calleeLabel names a call target: symbol, address, or "jalr xN".
func calleeLabel(e disasm.CallEdge) string {
	switch {
	case e.TargetName != "":
		return e.TargetName
	case e.TargetPC != 0:
		return fmt.Sprintf("0x%x", e.TargetPC)
	}
	return "jalr " + e.Reg
}
