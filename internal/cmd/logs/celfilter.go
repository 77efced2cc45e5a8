package logtools

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program evaluated per archived record.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream_id", cel.IntType),
		cel.Variable("session_id", cel.IntType),
		cel.Variable("term_id", cel.IntType),
		cel.Variable("position", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("msg_type", cel.StringType),
		cel.Variable("direction", cel.StringType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against one record. Evaluation
// failures exclude the record.
func (f celFilter) Eval(rec printRecord) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"stream_id":  int64(rec.StreamID),
		"session_id": int64(rec.SessionID),
		"term_id":    int64(rec.TermID),
		"position":   rec.Position,
		"size":       int64(len(rec.Body)),
		"text":       string(rec.Body),
		"msg_type":   rec.MsgType,
		"direction":  rec.Direction,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
