package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/runtime"
	"github.com/oisee/hdlsim/pkg/schedconfig"
	"github.com/oisee/hdlsim/pkg/siropt"
	"github.com/oisee/hdlsim/pkg/version"
)

var (
	optimize     bool
	fourState    bool
	vcdPath      string
	topOverride  string
	ignoredLoops []string
	trueLoops    []string
	luaConfig    string
	showVersion  bool
)

var rootCmd = &cobra.Command{
	Use:   "hdlsim",
	Short: "hdlsim " + version.GetVersion() + " — cycle-accurate event-driven logic simulator core",
	Long: `hdlsim drives pkg/runtime directly from a JSON-encoded hdlir.Program
(the HDL frontend that would normally produce this tree is out of scope
for this module — see spec.md §1).

Exit codes: 0 success; 1 parse/analyze error; 2 schedule/codegen error;
3 runtime error.`,
}

var buildCmd = &cobra.Command{
	Use:   "build <program.json>",
	Short: "flatten, schedule, and JIT-compile a design without running it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sim, err := buildFromFile(args[0])
		if err != nil {
			failWith(err)
		}
		fmt.Printf("ok: %d signal(s), %d event(s), %d byte(s) of memory\n",
			len(sim.NamedSignals()), len(sim.NamedEvents()), sim.TotalSize())
	},
}

var runCmd = &cobra.Command{
	Use:   "run <program.json>",
	Short: "build a design and tick every named event once, in name order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sim, err := buildFromFile(args[0])
		if err != nil {
			failWith(err)
		}
		if vcdPath != "" {
			fmt.Fprintf(os.Stderr, "hdlsim: --vcd %s requested, but this build carries no VCD dumper (spec.md §6 lists it as a collaborator outside this module's scope)\n", vcdPath)
		}
		for _, ne := range sim.NamedEvents() {
			if err := sim.Tick(ne.Event); err != nil {
				fmt.Fprintf(os.Stderr, "hdlsim: tick %s: %v\n", ne.Path, err)
				os.Exit(exitCodeFor(err))
			}
		}
		for _, ns := range sim.NamedSignals() {
			if fourState {
				value, mask := sim.GetFourState(ns.Signal)
				if mask != nil {
					fmt.Printf("%s = %v (x-mask %v)\n", ns.Path, value, mask)
					continue
				}
			}
			fmt.Printf("%s = %v\n", ns.Path, sim.Get(ns.Signal))
		}
	},
}

func buildFromFile(path string) (*runtime.Simulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var prog hdlir.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	top := prog.Top
	if topOverride != "" {
		top = topOverride
	}

	cfg, err := loadSchedConfig()
	if err != nil {
		return nil, err
	}
	resolve := cfg.Resolver(topLevelNamer(&prog, top))

	level := siropt.LevelNone
	if optimize {
		level = siropt.LevelFull
	}

	return runtime.Build(&prog, top, runtime.Config{Optimize: level, Resolve: resolve, Debug: false})
}

func loadSchedConfig() (*schedconfig.Config, error) {
	cfg := &schedconfig.Config{}
	for _, s := range ignoredLoops {
		l, err := schedconfig.ParseIgnoredLoop(s)
		if err != nil {
			return nil, err
		}
		cfg.IgnoredLoops = append(cfg.IgnoredLoops, l)
	}
	for _, s := range trueLoops {
		l, err := schedconfig.ParseTrueLoop(s)
		if err != nil {
			return nil, err
		}
		cfg.TrueLoops = append(cfg.TrueLoops, l)
	}
	if luaConfig != "" {
		if err := cfg.LoadLua(luaConfig); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// topLevelNamer recovers a dotted name for an address belonging to the
// top instance directly from prog, the only naming available before
// flatten runs. Addresses in a child instance (Inst != addr.TopInstance)
// have no name under this scheme: --ignored-loop/--true-loop can only
// target the top module's own variables.
func topLevelNamer(prog *hdlir.Program, top string) func(addr.AbsoluteAddr) string {
	mod := prog.Modules[top]
	return func(a addr.AbsoluteAddr) string {
		if mod == nil || a.Inst != addr.TopInstance {
			return ""
		}
		for _, v := range mod.Variables {
			if v.ID == a.Var {
				return v.Path
			}
		}
		return ""
	}
}

func exitCodeFor(err error) int {
	var unsupportedComb *hdlerr.UnsupportedCombLoweringError
	var unsupportedFF *hdlerr.UnsupportedFFLoweringError
	var unsupportedMod *hdlerr.UnsupportedSimulatorParserError
	var internal *hdlerr.InternalError
	if errors.As(err, &unsupportedComb) || errors.As(err, &unsupportedFF) ||
		errors.As(err, &unsupportedMod) || errors.As(err, &internal) {
		return 1
	}

	var multiDriver *hdlerr.MultipleDriverError
	var combLoop *hdlerr.CombinationalLoopError
	var codegen *hdlerr.CodegenError
	if errors.As(err, &multiDriver) || errors.As(err, &combLoop) || errors.As(err, &codegen) {
		return 2
	}

	var notEvent *hdlerr.NotAnEventError
	if errors.Is(err, hdlerr.ErrDetectedTrueLoop) || errors.As(err, &notEvent) {
		return 3
	}

	// A bare read/decode/flag error never reached the core pipeline.
	return 1
}

func failWith(err error) {
	fmt.Fprintf(os.Stderr, "hdlsim: %v\n", err)
	os.Exit(exitCodeFor(err))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&optimize, "optimize", "O", false, "enable SIR optimization passes")
	rootCmd.PersistentFlags().BoolVar(&fourState, "four-state", false, "print X-masks alongside values (four-state signals only)")
	rootCmd.PersistentFlags().StringVar(&vcdPath, "vcd", "", "VCD output path (accepted for CLI-surface compatibility; no dumper is built)")
	rootCmd.PersistentFlags().StringVar(&topOverride, "top", "", "override the input program's top module")
	rootCmd.PersistentFlags().StringArrayVar(&ignoredLoops, "ignored-loop", nil, "accept a reported combinational loop: <from>~<to> (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&trueLoops, "true-loop", nil, "accept a reported combinational loop with a convergence bound: <from>~<to>~<N> (repeatable)")
	rootCmd.PersistentFlags().StringVar(&luaConfig, "lua-config", "", "embedded-Lua script returning {ignored_loops=..., true_loops=...} overrides")
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "show version")

	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersion())
			return
		}
		cmd.Help()
	}

	rootCmd.AddCommand(buildCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hdlsim: %v\n", err)
		os.Exit(1)
	}
}
