package sampler

import (
	"github.com/maxgio92/xstat/pkg/walker"
)

const (
	ScoreClean       = 0
	ScoreUnresolved  = 1
	ScoreImplausible = 2
)

// entryPoints are the functions a complete main thread stack starts from.
var entryPoints = map[string]struct{}{
	"_start":                 {},
	"__libc_start_main":      {},
	"__libc_start_call_main": {},
	"main":                   {},
	"start_thread":           {},
	"clone":                  {},
	"clone3":                 {},
	"runtime.goexit":         {},
	"runtime.main":           {},
	"runtime.rt0_go":         {},
}

// Score rates a stack walk: lower is better. frames are innermost first.
func Score(frames []walker.Frame, main bool) int {
	if len(frames) == 0 {
		return ScoreUnresolved
	}
	root := frames[len(frames)-1]
	if root.Function == "" {
		return ScoreUnresolved
	}
	if _, ok := entryPoints[root.Function]; main && !ok {
		return ScoreImplausible
	}
	return ScoreClean
}
