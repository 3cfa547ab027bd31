// Package schedconfig turns the scheduler's CLI and scripted overrides
// (spec.md §6 "--ignored-loop", "--true-loop") into a scheduler.LoopResolver.
package schedconfig

import (
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/scheduler"
)

// Loop names one user-accepted combinational cycle by the dotted names
// of two signals expected among a reported cycle's members. Bound is
// unused for an ignored loop and carries the safety limit for a true
// loop.
type Loop struct {
	From, To string
	Bound    int
}

// Config collects every accepted loop, gathered from repeated
// --ignored-loop/--true-loop flags and/or one embedded-Lua script.
type Config struct {
	IgnoredLoops []Loop
	TrueLoops    []Loop
}

// ParseIgnoredLoop parses one "--ignored-loop <from>~<to>" flag value.
func ParseIgnoredLoop(s string) (Loop, error) {
	parts := strings.Split(s, "~")
	if len(parts) != 2 {
		return Loop{}, fmt.Errorf("schedconfig: --ignored-loop wants <from>~<to>, got %q", s)
	}
	return Loop{From: parts[0], To: parts[1]}, nil
}

// ParseTrueLoop parses one "--true-loop <from>~<to>~<N>" flag value.
func ParseTrueLoop(s string) (Loop, error) {
	parts := strings.Split(s, "~")
	if len(parts) != 3 {
		return Loop{}, fmt.Errorf("schedconfig: --true-loop wants <from>~<to>~<N>, got %q", s)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return Loop{}, fmt.Errorf("schedconfig: bad bound in --true-loop %q: %w", s, err)
	}
	return Loop{From: parts[0], To: parts[1], Bound: n}, nil
}

// LoadLua runs the script at path, expecting it to return a table shaped
// {ignored_loops = {{"from","to"}, ...}, true_loops = {{"from","to",N}, ...}},
// merging the result into c. Grounded on pkg/meta/lua_evaluator.go's
// LuaEvaluator: a bare *lua.LState with no registered API beyond what
// gopher-lua provides natively, since the override script only needs to
// build and return a plain table.
func (c *Config) LoadLua(path string) error {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("schedconfig: running %s: %w", path, err)
	}
	result := L.Get(-1)
	L.Pop(1)

	tbl, ok := result.(*lua.LTable)
	if !ok {
		return fmt.Errorf("schedconfig: %s must return a table", path)
	}

	if ignored, ok := tbl.RawGetString("ignored_loops").(*lua.LTable); ok {
		ignored.ForEach(func(_, v lua.LValue) {
			if row, ok := v.(*lua.LTable); ok {
				c.IgnoredLoops = append(c.IgnoredLoops, Loop{
					From: row.RawGetInt(1).String(),
					To:   row.RawGetInt(2).String(),
				})
			}
		})
	}
	if trueLoops, ok := tbl.RawGetString("true_loops").(*lua.LTable); ok {
		trueLoops.ForEach(func(_, v lua.LValue) {
			row, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			n, _ := strconv.Atoi(row.RawGetInt(3).String())
			c.TrueLoops = append(c.TrueLoops, Loop{
				From:  row.RawGetInt(1).String(),
				To:    row.RawGetInt(2).String(),
				Bound: n,
			})
		})
	}
	return nil
}

// Resolver builds a scheduler.LoopResolver matching a reported cyclic
// group by name: name recovers one member address's dotted signal name.
// The caller builds name from the same input Program it hands to
// runtime.Build, before flatten assigns instance-qualified addresses —
// matching is therefore by top-module-relative variable path, the only
// naming available prior to a build. A group matches when both of a
// configured Loop's endpoints appear among the group's members, in
// either order; ignored loops are checked before true loops, so
// declaring the same pair in both lists resolves it as ignored. An ignored
// loop resolves to StrategyStaticUnroll with Unroll set to the group's
// member count.
func (c *Config) Resolver(name func(addr.AbsoluteAddr) string) scheduler.LoopResolver {
	return func(members []addr.AbsoluteAddr) (scheduler.LoopDecision, bool) {
		names := make(map[string]bool, len(members))
		for _, m := range members {
			names[name(m)] = true
		}
		for _, l := range c.IgnoredLoops {
			if names[l.From] && names[l.To] {
				return scheduler.LoopDecision{Strategy: scheduler.StrategyStaticUnroll, Unroll: len(members)}, true
			}
		}
		for _, l := range c.TrueLoops {
			if names[l.From] && names[l.To] {
				return scheduler.LoopDecision{Strategy: scheduler.StrategyRuntimeConverge, SafetyBound: l.Bound}, true
			}
		}
		return scheduler.LoopDecision{}, false
	}
}
