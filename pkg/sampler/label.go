package sampler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/maxgio92/xstat/pkg/graph"
	"github.com/maxgio92/xstat/pkg/walker"
)

const (
	// UnknownFunction names frames whose function could not be resolved.
	UnknownFunction = "??"

	// TaskExitedLabel is the leaf recorded for processes without a walker.
	TaskExitedLabel = "[task_exited]"

	// WalkErrorLabel is the leaf recorded when every walk attempt failed.
	WalkErrorLabel = "StackWalker_Error"
)

// Label renders the frame label for the given sample mode.
func Label(f walker.Frame, flags Flags) string {
	name := f.Function
	if name == "" {
		name = UnknownFunction
	}

	var label string
	switch {
	case flags.Has(FlagModule) && f.Module != "":
		label = fmt.Sprintf("%s+0x%x", filepath.Base(f.Module), f.Offset)
	case flags.Has(FlagLine) && f.Source != "":
		label = fmt.Sprintf("%s@%s:%d", name, filepath.Base(f.Source), f.Line)
	case flags.Has(FlagPC):
		label = fmt.Sprintf("%s@0x%x", name, f.PC)
	default:
		label = name
	}

	keys := lo.Keys(f.Vars)
	sort.Strings(keys)
	for _, k := range keys {
		label += "$" + k + "=" + f.Vars[k]
	}

	return label
}

// FrameAttrs returns the node attributes of f.
func FrameAttrs(f walker.Frame) graph.Attrs {
	attrs := graph.Attrs{}
	if f.Function != "" {
		attrs[graph.AttrFunction] = f.Function
	}
	if f.Source != "" {
		attrs[graph.AttrSource] = f.Source
		attrs[graph.AttrLine] = strconv.Itoa(f.Line)
	}
	if f.Module != "" {
		attrs[graph.AttrModule] = fmt.Sprintf("%s+0x%x", f.Module, f.Offset)
	}
	if f.PC != 0 {
		attrs[graph.AttrPC] = fmt.Sprintf("0x%x", f.PC)
	}
	return attrs
}

// Trace converts innermost first frames into root first labels and
// attributes.
func Trace(frames []walker.Frame, flags Flags) ([]string, []graph.Attrs) {
	labels := make([]string, len(frames))
	attrs := make([]graph.Attrs, len(frames))
	for i, f := range frames {
		j := len(frames) - 1 - i
		labels[j] = Label(f, flags)
		attrs[j] = FrameAttrs(f)
	}
	return labels, attrs
}
