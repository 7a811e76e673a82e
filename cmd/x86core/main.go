// Command x86core drives internal/cpux86 from flat ROM/RAM images, the way
// the teacher's main.go wires a Machine together — but as a cobra command
// tree (run/disasm/debug) instead of main.go's hand-rolled os.Args switch,
// grounded on _examples/oisee-z80-optimizer/cmd/z80opt/main.go's root
// command plus inline subcommand idiom.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/x86core/x86core/internal/cpux86"
	"github.com/x86core/x86core/internal/debugger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "x86core",
		Short: "Cycle-aware x86 core: run, disassemble, or debug a flat memory image",
	}

	rootCmd.AddCommand(newRunCmd(), newDisasmCmd(), newDebugCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// machineFlags holds the options shared by run/debug: family, image paths,
// memory size, and initial A20 state.
type machineFlags struct {
	family   string
	romPath  string
	cmosPath string
	memBytes uint32
	a20      bool
}

func addMachineFlags(cmd *cobra.Command, f *machineFlags) {
	cmd.Flags().StringVar(&f.family, "family", "8086", "CPU family: 8088|8086|80186|80286|80386|80486")
	cmd.Flags().StringVar(&f.romPath, "rom", "", "flat BIOS/ROM image, mapped at the top of the address space")
	cmd.Flags().StringVar(&f.cmosPath, "cmos", "", "128-byte CMOS RAM image, mapped at ports 0x70/0x71")
	cmd.Flags().Uint32Var(&f.memBytes, "mem", 1<<20, "RAM size in bytes")
	cmd.Flags().BoolVar(&f.a20, "a20", true, "A20 gate initially enabled")
}

func parseFamily(s string) (cpux86.CPUModel, error) {
	switch s {
	case "8088":
		return cpux86.Model8088, nil
	case "8086":
		return cpux86.Model8086, nil
	case "80186":
		return cpux86.Model80186, nil
	case "80286":
		return cpux86.Model80286, nil
	case "80386sx":
		return cpux86.Model80386SX, nil
	case "80386":
		return cpux86.Model80386, nil
	case "80486":
		return cpux86.Model80486, nil
	}
	return 0, fmt.Errorf("unknown --family %q", s)
}

func newRunCmd() *cobra.Command {
	f := &machineFlags{}
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Free-run a ROM image until halt or fault",
		RunE: func(cmd *cobra.Command, args []string) error {
			cpu, bus, dp, err := buildMachine(f)
			if err != nil {
				return err
			}
			d := debugger.New(cpu, bus)
			stopped := false
			dp.Activate = func() {
				fmt.Fprintln(cmd.OutOrStdout(), "debug port hit, entering monitor")
				if err := debugger.Interactive(d, int(os.Stdin.Fd()), os.Stdin, cmd.OutOrStdout()); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
				stopped = true
			}
			for i := 0; (maxSteps <= 0 || i < maxSteps) && !stopped; i++ {
				if err := cpu.Step(); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "stopped after %d steps: %v\n", i, err)
					return nil
				}
			}
			if !stopped {
				fmt.Fprintf(cmd.OutOrStdout(), "step limit (%d) reached\n", maxSteps)
			}
			return nil
		},
	}
	addMachineFlags(cmd, f)
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "stop after this many instructions (0: unbounded)")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	f := &machineFlags{}
	var addr uint64
	var count int
	cmd := &cobra.Command{
		Use:   "disasm",
		Short: "Disassemble count instructions starting at addr",
		RunE: func(cmd *cobra.Command, args []string) error {
			cpu, bus, _, err := buildMachine(f)
			if err != nil {
				return err
			}
			d := debugger.New(cpu, bus)
			for _, l := range d.Disassemble(addr, count) {
				fmt.Fprintf(cmd.OutOrStdout(), "%08X  %-16s %s\n", l.Addr, l.HexBytes, l.Text)
			}
			return nil
		},
	}
	addMachineFlags(cmd, f)
	cmd.Flags().Uint64Var(&addr, "addr", 0xFFFF0, "linear address to start disassembling at")
	cmd.Flags().IntVar(&count, "count", 16, "number of instructions to disassemble")
	return cmd
}

func newDebugCmd() *cobra.Command {
	f := &machineFlags{}
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Launch the interactive monitor attached to a ROM image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cpu, bus, _, err := buildMachine(f)
			if err != nil {
				return err
			}
			d := debugger.New(cpu, bus)
			return debugger.Interactive(d, int(os.Stdin.Fd()), os.Stdin, cmd.OutOrStdout())
		},
	}
	addMachineFlags(cmd, f)
	return cmd
}
