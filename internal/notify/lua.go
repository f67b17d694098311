package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// hookFunction is the global the user script must define:
//
//	function on_safety_event(event)
//	  return string.format("%.1f°C on the loft sensor!", event.current_temp)
//	end
//
// Returning nil (or anything that is not a string) keeps the default message.
const hookFunction = "on_safety_event"

// LuaHook lets a user script rewrite notification messages. An LState is not
// goroutine-safe, so calls are serialized.
type LuaHook struct {
	mu    sync.Mutex
	state *lua.LState
}

// NewLuaHook loads the script and verifies it defines on_safety_event.
func NewLuaHook(path string) (*LuaHook, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("load notify hook %s: %w", path, err)
	}
	if _, ok := L.GetGlobal(hookFunction).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("notify hook %s does not define %s()", path, hookFunction)
	}

	log.Info().Str("script", path).Msg("Loaded notification hook")
	return &LuaHook{state: L}, nil
}

// Format runs the hook and returns a custom message. On script error or a
// non-string return the default message stands.
func (h *LuaHook) Format(evt SafetyEvent) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	L := h.state
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(evt.ID))
	L.SetField(tbl, "status", lua.LString(string(evt.Status)))
	L.SetField(tbl, "current_temp", lua.LNumber(evt.CurrentTemp))
	L.SetField(tbl, "bound", lua.LNumber(evt.Bound))
	L.SetField(tbl, "recovered", lua.LBool(evt.Recovered))
	if evt.Target != nil {
		L.SetField(tbl, "target", lua.LNumber(*evt.Target))
	}

	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(hookFunction),
		NRet:    1,
		Protect: true,
	}, tbl)
	if err != nil {
		log.Warn().Err(err).Msg("Notification hook failed, using default message")
		return "", false
	}

	ret := L.Get(-1)
	L.Pop(1)
	if s, ok := ret.(lua.LString); ok && string(s) != "" {
		return string(s), true
	}
	return "", false
}

// Close releases the Lua state.
func (h *LuaHook) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Close()
}
