package sampler

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/walker"
)

// ParseVariableSpec reads "<n>#<file>:<line>.<depth>$<name>#...". An empty
// spec or "NULL" requests nothing.
func ParseVariableSpec(spec string) ([]walker.VarRequest, error) {
	if spec == "" || spec == "NULL" {
		return nil, nil
	}

	parts := strings.Split(spec, "#")
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return nil, errors.Wrapf(ErrVariableSpec, "bad count %q", parts[0])
	}
	entries := parts[1:]
	if len(entries) > 0 && entries[len(entries)-1] == "" {
		entries = entries[:len(entries)-1]
	}
	if len(entries) != n {
		return nil, errors.Wrapf(ErrVariableSpec, "count %d, %d entries", n, len(entries))
	}

	reqs := make([]walker.VarRequest, 0, n)
	for _, e := range entries {
		req, err := parseVarRequest(e)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	return reqs, nil
}

func parseVarRequest(e string) (walker.VarRequest, error) {
	dollar := strings.LastIndex(e, "$")
	if dollar < 0 || dollar == len(e)-1 {
		return walker.VarRequest{}, errors.Wrapf(ErrVariableSpec, "no variable name in %q", e)
	}
	loc, name := e[:dollar], e[dollar+1:]

	colon := strings.LastIndex(loc, ":")
	if colon <= 0 {
		return walker.VarRequest{}, errors.Wrapf(ErrVariableSpec, "no file in %q", e)
	}
	file, pos := loc[:colon], loc[colon+1:]

	lineStr, depthStr, ok := strings.Cut(pos, ".")
	if !ok {
		return walker.VarRequest{}, errors.Wrapf(ErrVariableSpec, "no depth in %q", e)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 0 {
		return walker.VarRequest{}, errors.Wrapf(ErrVariableSpec, "bad line in %q", e)
	}
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth < 0 {
		return walker.VarRequest{}, errors.Wrapf(ErrVariableSpec, "bad depth in %q", e)
	}

	return walker.VarRequest{File: file, Line: line, Depth: depth, Name: name}, nil
}
