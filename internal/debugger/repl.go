package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// REPL drives an interactive command loop over a Debugger, grounded on
// debug_commands.go's single/two-letter command vocabulary (r, d, m, s, g,
// b/bc/bl, w/wc/wl, bt, macro, ?) reworked from the teacher's GUI-overlay
// keystroke handler into a line-oriented terminal session, using
// golang.org/x/term the way the teacher used it for host terminal control
// (raw mode is only entered for the duration of ReadPassword-free plain
// line reads here, so Ctrl-C and line editing still behave like a normal
// shell unless Interactive is used on a real TTY).
type REPL struct {
	d   *Debugger
	in  *bufio.Reader
	out io.Writer
}

func NewREPL(d *Debugger, in io.Reader, out io.Writer) *REPL {
	return &REPL{d: d, in: bufio.NewReader(in), out: out}
}

// Run reads commands until EOF or "q"/"quit", printing a ">" prompt before
// each line the way the teacher's monitor prints "MACHINE MONITOR" then
// waits on inputLine.
func (r *REPL) Run() error {
	fmt.Fprintln(r.out, "x86core monitor — type ? for help")
	r.showRegisters()
	for {
		fmt.Fprint(r.out, "> ")
		line, err := r.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if stop := r.dispatch(strings.TrimSpace(line)); stop {
			return nil
		}
	}
}

// Interactive runs the REPL with the given file descriptor placed into raw
// terminal mode for the duration, matching the teacher's use of
// golang.org/x/term for per-keystroke host control; fd is typically
// int(os.Stdin.Fd()).
func Interactive(d *Debugger, fd int, in io.Reader, out io.Writer) error {
	if !term.IsTerminal(fd) {
		return NewREPL(d, in, out).Run()
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return NewREPL(d, in, out).Run()
	}
	defer term.Restore(fd, oldState)
	t := term.NewTerminal(readWriter{in, out}, "> ")
	return runWithTerminal(d, t, out)
}

type readWriter struct {
	io.Reader
	io.Writer
}

func runWithTerminal(d *Debugger, t *term.Terminal, out io.Writer) error {
	r := &REPL{d: d, out: out}
	fmt.Fprintln(out, "x86core monitor — type ? for help\r")
	r.showRegisters()
	for {
		line, err := t.ReadLine()
		if err != nil {
			return nil
		}
		if stop := r.dispatch(strings.TrimSpace(line)); stop {
			return nil
		}
	}
}

func (r *REPL) dispatch(line string) (quit bool) {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "q", "quit":
		return true
	case "?", "help":
		r.showHelp()
	case "r":
		r.showRegisters()
	case "r.set":
		r.cmdSetRegister(args)
	case "d":
		r.cmdDisassemble(args)
	case "m":
		r.cmdMemory(args)
	case "s":
		r.cmdStep(args)
	case "g":
		r.cmdGo(args)
	case "b":
		r.cmdBreak(args)
	case "bc":
		r.cmdBreakClear(args)
	case "bl":
		r.cmdBreakList()
	case "w":
		r.cmdWatch(args)
	case "wc":
		r.cmdWatchClear(args)
	case "wl":
		r.cmdWatchList()
	case "bt":
		r.cmdHistory()
	case "bt.ct":
		r.cmdControlTransferHistory()
	case "macro":
		r.cmdMacro(args)
	default:
		fmt.Fprintf(r.out, "unknown command %q, type ? for help\r\n", cmd)
	}
	return false
}

func (r *REPL) showHelp() {
	fmt.Fprint(r.out, "r            show registers\r\n"+
		"r.set N V    set register N to value V\r\n"+
		"d [addr] [n] disassemble n instructions at addr (default: PC, 8)\r\n"+
		"m addr [n]   dump n bytes of memory at addr\r\n"+
		"s            single-step\r\n"+
		"g [n]        run (n steps, or until breakpoint/fault if omitted)\r\n"+
		"b addr       set breakpoint\r\n"+
		"bc addr      clear breakpoint\r\n"+
		"bl           list breakpoints\r\n"+
		"w addr       set watchpoint\r\n"+
		"wc addr      clear watchpoint\r\n"+
		"wl           list watchpoints\r\n"+
		"bt           show execution history\r\n"+
		"bt.ct        show control-transfer history\r\n"+
		"macro name   replay a recorded macro\r\n"+
		"q            quit\r\n")
}

func (r *REPL) showRegisters() {
	for _, reg := range r.d.RegisterDump() {
		fmt.Fprintf(r.out, "%-8s %#06x\r\n", reg.Name, reg.Value)
	}
}

func (r *REPL) cmdSetRegister(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, "usage: r.set NAME VALUE\r")
		return
	}
	v, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		fmt.Fprintf(r.out, "bad value: %v\r\n", err)
		return
	}
	if err := r.d.SetRegister(strings.ToUpper(args[0]), v); err != nil {
		fmt.Fprintf(r.out, "error: %v\r\n", err)
	}
}

func (r *REPL) cmdDisassemble(args []string) {
	addr, n := r.d.linearPC(), 8
	if len(args) > 0 {
		addr = parseAddr(args[0])
	}
	if len(args) > 1 {
		n, _ = strconv.Atoi(args[1])
	}
	for _, l := range r.d.Disassemble(addr, n) {
		marker := "  "
		if l.IsPC {
			marker = "=>"
		}
		fmt.Fprintf(r.out, "%s %08X  %-16s %s\r\n", marker, l.Addr, l.HexBytes, l.Text)
	}
}

func (r *REPL) cmdMemory(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "usage: m ADDR [COUNT]\r")
		return
	}
	addr := parseAddr(args[0])
	n := 16
	if len(args) > 1 {
		n, _ = strconv.Atoi(args[1])
	}
	for i := 0; i < n; i += 16 {
		fmt.Fprintf(r.out, "%08X  ", addr+uint64(i))
		for j := 0; j < 16 && i+j < n; j++ {
			fmt.Fprintf(r.out, "%02X ", r.d.peekPhysical(addr+uint64(i+j)))
		}
		fmt.Fprint(r.out, "\r\n")
	}
}

func (r *REPL) cmdStep(args []string) {
	ev, err := r.d.Step()
	if ev != nil {
		fmt.Fprintf(r.out, "watchpoint $%X: %02X -> %02X\r\n", ev.Watchpoint, ev.Old, ev.New)
	}
	if err != nil {
		fmt.Fprintf(r.out, "stopped: %v\r\n", err)
	}
	r.showRegisters()
}

func (r *REPL) cmdGo(args []string) {
	n := 0
	if len(args) > 0 {
		n, _ = strconv.Atoi(args[0])
	}
	ev := r.d.Run(n)
	switch ev.Reason {
	case StopBreakpoint:
		fmt.Fprintf(r.out, "breakpoint at $%X\r\n", ev.Breakpoint)
	case StopWatchpoint:
		fmt.Fprintf(r.out, "watchpoint $%X: %02X -> %02X\r\n", ev.Watchpoint, ev.Old, ev.New)
	case StopFault:
		fmt.Fprintf(r.out, "fault: %v\r\n", ev.Err)
	case StopHalted:
		fmt.Fprintln(r.out, "halted\r")
	case StopStepLimit:
		fmt.Fprintln(r.out, "step limit reached\r")
	}
	r.showRegisters()
}

func (r *REPL) cmdBreak(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "usage: b ADDR [luaExpr...]\r")
		return
	}
	addr := parseAddr(args[0])
	if len(args) > 1 {
		r.d.SetConditionalBreakpoint(addr, &Condition{LuaExpr: strings.Join(args[1:], " ")})
		return
	}
	r.d.SetBreakpoint(addr)
}

func (r *REPL) cmdBreakClear(args []string) {
	if len(args) == 0 {
		return
	}
	r.d.ClearBreakpoint(parseAddr(args[0]))
}

func (r *REPL) cmdBreakList() {
	for _, b := range r.d.ListBreakpoints() {
		fmt.Fprintf(r.out, "$%X  hits=%d\r\n", b.Addr, b.HitCount)
	}
}

func (r *REPL) cmdWatch(args []string) {
	if len(args) == 0 {
		return
	}
	r.d.SetWatchpoint(parseAddr(args[0]))
}

func (r *REPL) cmdWatchClear(args []string) {
	if len(args) == 0 {
		return
	}
	r.d.ClearWatchpoint(parseAddr(args[0]))
}

func (r *REPL) cmdWatchList() {
	for _, w := range r.d.ListWatchpoints() {
		fmt.Fprintf(r.out, "$%X  last=%02X\r\n", w.Addr, w.LastValue)
	}
}

func (r *REPL) cmdHistory() {
	for _, e := range r.d.CPU.History().Entries() {
		exc := ""
		if e.Exception >= 0 {
			exc = fmt.Sprintf(" exception=%d", e.Exception)
		}
		fmt.Fprintf(r.out, "%+v  % X%s\r\n", e.State, e.InstructionBytes, exc)
	}
}

func (r *REPL) cmdControlTransferHistory() {
	for _, e := range r.d.CPU.ControlTransferHistory().Entries() {
		fmt.Fprintf(r.out, "$%X -> $%X  %s  x%d\r\n", e.Addr, e.Destination, e.Mnemonic, e.Count)
	}
}

func (r *REPL) cmdMacro(args []string) {
	if len(args) == 0 {
		return
	}
	lines, ok := r.d.Macro(args[0])
	if !ok {
		fmt.Fprintf(r.out, "no such macro %q\r\n", args[0])
		return
	}
	for _, l := range lines {
		r.dispatch(l)
	}
}

func parseAddr(s string) uint64 {
	s = strings.TrimPrefix(s, "$")
	v, _ := strconv.ParseUint(s, 0, 64)
	return v
}
