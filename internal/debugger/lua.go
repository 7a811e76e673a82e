package debugger

import (
	lua "github.com/yuin/gopher-lua"
)

// luaConditions evaluates scripted breakpoint conditions and macro bodies.
// Grounded on SPEC_FULL.md §11: the teacher's debug_monitor.go already
// models a `macros map[string][]string` field and a BreakpointCondition
// struct (Feature 13 "Scripting") but only ever recorded condition structs,
// never scripted them — gopher-lua (already the teacher's own indirect
// dependency, otherwise unused anywhere in the retrieved teacher tree)
// completes the feature the teacher's own data model gestures at.
type luaConditions struct {
	state *lua.LState
}

func newLuaConditions() *luaConditions {
	return &luaConditions{state: lua.NewState()}
}

// Eval runs expr as a Lua boolean expression with every named CPU register
// bound as a global number, returning its truthiness. A fresh set of
// globals is bound from d on every call since register values change
// between breakpoint checks.
func (l *luaConditions) Eval(expr string, d *Debugger) (bool, error) {
	l.bindRegisters(d)
	if err := l.state.DoString("__cond_result = (" + expr + ")"); err != nil {
		return false, err
	}
	v := l.state.GetGlobal("__cond_result")
	return lua.LVAsBool(v), nil
}

// RunMacro executes a multi-line Lua script body with the CPU registers bound
// as globals. The REPL's "macro" command does not use it: that command
// replays a macro's lines as monitor commands.
func (l *luaConditions) RunMacro(lines []string, d *Debugger) error {
	l.bindRegisters(d)
	body := ""
	for _, ln := range lines {
		body += ln + "\n"
	}
	return l.state.DoString(body)
}

func (l *luaConditions) bindRegisters(d *Debugger) {
	for _, n := range reg16Names {
		v, _ := d.GetRegister(n)
		l.state.SetGlobal(n, lua.LNumber(v))
	}
	for _, n := range segNames {
		v, _ := d.GetRegister(n)
		l.state.SetGlobal(n, lua.LNumber(v))
	}
	eip, _ := d.GetRegister("EIP")
	flags, _ := d.GetRegister("FLAGS")
	pc, _ := d.GetRegister("PC")
	l.state.SetGlobal("EIP", lua.LNumber(eip))
	l.state.SetGlobal("FLAGS", lua.LNumber(flags))
	l.state.SetGlobal("PC", lua.LNumber(pc))
}

// Close releases the embedded Lua state.
func (l *luaConditions) Close() { l.state.Close() }
