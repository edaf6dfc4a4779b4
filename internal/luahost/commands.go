package luahost

import (
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerCommands installs the engine commands available to every script:
// terminate_sequence(), sleep(ms), and print(msg).
func (h *Host) registerCommands() {
	L := h.l

	L.SetGlobal("terminate_sequence", L.NewFunction(func(L *lua.LState) int {
		h.terminated.Store(true)
		if h.cancel != nil {
			h.cancel()
		}
		L.RaiseError("sequence terminated")
		return 0
	}))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := float64(L.CheckNumber(1))
		if ms < 0 {
			ms = 0
		}
		wakeup := time.Now().Add(time.Duration(ms * float64(time.Millisecond)))
		for {
			if h.runCtx != nil {
				select {
				case <-h.runCtx.Done():
					L.RaiseError("sleep interrupted")
					return 0
				default:
				}
			}
			remaining := time.Until(wakeup)
			if remaining <= 0 {
				return 0
			}
			if remaining > tickInterval {
				remaining = tickInterval
			}
			time.Sleep(remaining)
		}
	}))

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		if h.printFn != nil {
			h.printFn(strings.Join(parts, "\t"))
		}
		return 0
	}))
}
