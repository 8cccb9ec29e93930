package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/areawatch/areawatch/pkg/types"
)

// clause is one "field op value" comparison.
type clause struct {
	field string
	op    string
	raw   string
	num   float64
	flag  bool
}

// Condition is a conjunction of clauses, parsed from expressions such as
//
//	violation == yes
//	confidence >= 0.8 && class == person
//	hour < 6
//
// Confidence thresholds above 1 are read as percentages.
type Condition []clause

// Parse parses clauses joined by "&&".
func Parse(s string) (Condition, error) {
	var c Condition
	for _, part := range strings.Split(s, "&&") {
		f := strings.Fields(part)
		if len(f) != 3 {
			return nil, fmt.Errorf("condition: clause %q: want \"field op value\"", strings.TrimSpace(part))
		}
		cl := clause{field: strings.ToLower(f[0]), op: f[1], raw: f[2]}
		switch cl.field {
		case "confidence", "hour":
			if !numericOp(cl.op) {
				return nil, fmt.Errorf("condition: clause %q: unknown operator %q", part, cl.op)
			}
			v, err := strconv.ParseFloat(cl.raw, 64)
			if err != nil {
				return nil, fmt.Errorf("condition: clause %q: %w", part, err)
			}
			if cl.field == "confidence" && v > 1 {
				v /= 100
			}
			cl.num = v
		case "violation":
			if cl.op != "==" && cl.op != "!=" {
				return nil, fmt.Errorf("condition: clause %q: violation supports == and !=", part)
			}
			switch strings.ToLower(cl.raw) {
			case "yes", "true", "1":
				cl.flag = true
			case "no", "false", "0":
			default:
				return nil, fmt.Errorf("condition: clause %q: violation wants yes/no or true/false", part)
			}
		case "class":
			if cl.op != "==" && cl.op != "!=" {
				return nil, fmt.Errorf("condition: clause %q: class supports == and !=", part)
			}
		default:
			return nil, fmt.Errorf("condition: clause %q: unknown field %q", part, f[0])
		}
		c = append(c, cl)
	}
	return c, nil
}

// Match reports whether d satisfies every clause.
func (c Condition) Match(d types.Detection) bool {
	for _, cl := range c {
		if !cl.match(d) {
			return false
		}
	}
	return len(c) > 0
}

func (cl clause) match(d types.Detection) bool {
	switch cl.field {
	case "confidence":
		return compareFloat(d.Confidence, cl.op, cl.num)
	case "hour":
		return compareFloat(float64(d.Timestamp.Hour()), cl.op, cl.num)
	case "violation":
		return (d.Violation == cl.flag) == (cl.op == "==")
	case "class":
		return strings.EqualFold(d.Class, cl.raw) == (cl.op == "==")
	default:
		return false
	}
}

func numericOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
