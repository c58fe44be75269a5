package utils

import (
	"fmt"
	"math"

	"github.com/edisonguo/govaluate"
)

// BandExpression derives the analysis band from one or more source
// bands, e.g. "10 * log10(VH)" to turn linear GRD power into decibels.
type BandExpression struct {
	Text    string
	VarList []string
	expr    *govaluate.EvaluableExpression
}

var bandFunctions = map[string]govaluate.ExpressionFunction{
	"log10": unaryFunc("log10", math.Log10),
	"ln":    unaryFunc("ln", math.Log),
	"sqrt":  unaryFunc("sqrt", math.Sqrt),
	"abs":   unaryFunc("abs", math.Abs),
	"pow": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pow: expecting 2 arguments, got %d", len(args))
		}
		base, err := toFloat64(args[0])
		if err != nil {
			return nil, err
		}
		exp, err := toFloat64(args[1])
		if err != nil {
			return nil, err
		}
		return sameKind(args[0], math.Pow(base, exp)), nil
	},
}

func unaryFunc(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expecting 1 argument, got %d", name, len(args))
		}
		v, err := toFloat64(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}
		return sameKind(args[0], fn(v)), nil
	}
}

// The evaluator works in float32; results must come back in the same kind
// as the operands or the arithmetic operators reject them.
func sameKind(arg interface{}, v float64) interface{} {
	if _, ok := arg.(float32); ok {
		return float32(v)
	}
	return v
}

func toFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	}
	return 0, fmt.Errorf("value %v of type %T is not numeric", v, v)
}

// ParseBandExpression compiles text. The variables it references are the
// band names an imagery source must provide.
func ParseBandExpression(text string) (*BandExpression, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(text, bandFunctions)
	if err != nil {
		return nil, fmt.Errorf("band expression %q: %v", text, err)
	}
	be := &BandExpression{Text: text, expr: expr}
	seen := map[string]bool{}
	for _, v := range expr.Vars() {
		if !seen[v] {
			seen[v] = true
			be.VarList = append(be.VarList, v)
		}
	}
	if len(be.VarList) == 0 {
		return nil, fmt.Errorf("band expression %q references no band", text)
	}
	return be, nil
}

// Evaluate computes the expression for one pixel. ok is false when the
// result is not a finite number, which callers treat as no-data.
func (b *BandExpression) Evaluate(values map[string]float64) (val float64, ok bool, err error) {
	parameters := make(map[string]interface{}, len(values))
	for k, v := range values {
		parameters[k] = v
	}
	result, err := b.expr.Evaluate(parameters)
	if err != nil {
		return 0, false, fmt.Errorf("eval '%v' error: %v", b.Text, err)
	}
	val, err = toFloat64(result)
	if err != nil {
		return 0, false, fmt.Errorf("eval '%v': %v", b.Text, err)
	}
	return val, !math.IsNaN(val) && !math.IsInf(val, 0), nil
}
