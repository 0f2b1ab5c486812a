package compiler

import "github.com/chazu/hackwasm/pkg/wasm"

// ---------------------------------------------------------------------------
// Dispatch loop
//
//	loop
//	  block            ;; block N-1 is entered by br N-1
//	    ...
//	      block        ;; block 0 is entered by br 0
//	        local.get $selector
//	        br_table 0 1 .. N-1 0
//	      end
//	      <block 0>
//	    ...
//	  end
//	  <block N-1>
//	end
//	unreachable
//
// Block k's code sits inside N-1-k enclosing blocks, so a jump from it
// reaches the loop head with br N-1-k after setting the selector.
// Falling out of block k's code enters block k+1.
// ---------------------------------------------------------------------------

// dispatchLoop assembles compiled block bodies into a function body.
func dispatchLoop(bodies [][]wasm.Instr, selector uint32, yield bool) []wasm.Instr {
	n := len(bodies)
	size := 2*n + 6
	for _, b := range bodies {
		size += len(b)
	}
	code := make([]wasm.Instr, 0, size)

	code = append(code, wasm.Loop())
	if yield {
		code = append(code, wasm.Call(yieldSymbol))
	}
	for i := 0; i < n; i++ {
		code = append(code, wasm.Block())
	}
	targets := make([]uint32, n)
	for k := range targets {
		targets[k] = uint32(k)
	}
	code = append(code, wasm.LocalGet(selector), wasm.BrTable(targets, 0))
	for _, body := range bodies {
		code = append(code, wasm.End())
		code = append(code, body...)
	}
	code = append(code, wasm.End(), wasm.Unreachable())
	return code
}
