package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var comparators = []string{"<>", "<=", ">=", "=", "<", ">"}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	return evalOr(strings.TrimSpace(*expr), names, values, item)
}

func evalOr(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	for _, disj := range splitTop(expr, " OR ") {
		ok, err := evalAnd(disj, names, values, item)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func evalAnd(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	for _, clause := range splitTop(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(c string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if strings.HasPrefix(c, "(") && strings.HasSuffix(c, ")") {
		return evalOr(c[1:len(c)-1], names, values, item)
	}
	if arg, ok := call(c, "attribute_not_exists"); ok {
		_, present := item[resolve(arg, names)]
		return !present, nil
	}
	if arg, ok := call(c, "attribute_exists"); ok {
		_, present := item[resolve(arg, names)]
		return present, nil
	}
	for _, op := range comparators {
		lhs, rhs, ok := splitComparison(c, op)
		if !ok {
			continue
		}
		a, err := operand(lhs, names, values, item)
		if err != nil {
			return false, err
		}
		b, err := operand(rhs, names, values, item)
		if err != nil {
			return false, err
		}
		if a == nil || b == nil {
			return false, nil
		}
		return compare(a, b, op)
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", c)
}

func operand(tok string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := values[tok]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %s", tok)
		}
		return v, nil
	}
	return item[resolve(tok, names)], nil
}

func compare(a, b types.AttributeValue, op string) (bool, error) {
	var c int
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		c = strings.Compare(av.Value, bv.Value)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return false, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return false, err
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return op == "<>", nil
		}
		if av.Value != bv.Value {
			c = 1
		}
	default:
		return false, fmt.Errorf("dynamotest: cannot compare %T", a)
	}

	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("dynamotest: unknown operator %s", op)
}

// applyUpdate evaluates every SET right-hand side against the item as it was
// before the update, then writes the results.
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	var set, remove string
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		remove = expr[i+len("REMOVE "):]
		expr = strings.TrimSpace(expr[:i])
	}
	if expr != "" {
		if !strings.HasPrefix(expr, "SET ") {
			return fmt.Errorf("dynamotest: unsupported update %q", expr)
		}
		set = expr[len("SET "):]
	}

	pending := map[string]types.AttributeValue{}
	if set != "" {
		for _, assign := range splitTop(set, ",") {
			lhs, rhs, ok := splitComparison(assign, "=")
			if !ok {
				return fmt.Errorf("dynamotest: bad assignment %q", assign)
			}
			v, err := evalValue(rhs, names, values, item)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("dynamotest: %q refers to a missing attribute", rhs)
			}
			pending[resolve(lhs, names)] = v
		}
	}
	for k, v := range pending {
		item[k] = v
	}
	if remove != "" {
		for _, p := range splitTop(remove, ",") {
			delete(item, resolve(p, names))
		}
	}
	return nil
}

func evalValue(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{" + ", " - "} {
		if parts := splitTop(expr, op); len(parts) == 2 {
			a, err := evalValue(parts[0], names, values, item)
			if err != nil {
				return nil, err
			}
			b, err := evalValue(parts[1], names, values, item)
			if err != nil {
				return nil, err
			}
			return arithmetic(a, b, strings.TrimSpace(op))
		}
	}
	if args, ok := call(expr, "list_append"); ok {
		parts := splitTop(args, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("dynamotest: list_append takes two operands")
		}
		var out []types.AttributeValue
		for _, p := range parts {
			v, err := evalValue(p, names, values, item)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			l, ok := v.(*types.AttributeValueMemberL)
			if !ok {
				return nil, fmt.Errorf("dynamotest: list_append operand %q is not a list", p)
			}
			out = append(out, l.Value...)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	}
	if args, ok := call(expr, "if_not_exists"); ok {
		parts := splitTop(args, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("dynamotest: if_not_exists takes two operands")
		}
		if v, present := item[resolve(parts[0], names)]; present {
			return v, nil
		}
		return evalValue(parts[1], names, values, item)
	}
	return operand(expr, names, values, item)
}

func arithmetic(a, b types.AttributeValue, op string) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("dynamotest: %s needs two numbers", op)
	}
	x, err1 := strconv.ParseInt(an.Value, 10, 64)
	y, err2 := strconv.ParseInt(bn.Value, 10, 64)
	if err1 == nil && err2 == nil {
		if op == "-" {
			y = -y
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x+y, 10)}, nil
	}
	fx, err := strconv.ParseFloat(an.Value, 64)
	if err != nil {
		return nil, err
	}
	fy, err := strconv.ParseFloat(bn.Value, 64)
	if err != nil {
		return nil, err
	}
	if op == "-" {
		fy = -fy
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(fx+fy, 'f', -1, 64)}, nil
}

// call reports whether expr is fn(...) and returns the argument text.
func call(expr, fn string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, fn+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	return expr[len(fn)+1 : len(expr)-1], true
}

func splitComparison(expr, op string) (string, string, bool) {
	parts := splitTop(expr, " "+op+" ")
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func resolve(path string, names map[string]string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "#") {
		if n, ok := names[path]; ok {
			return n
		}
	}
	return path
}

// splitTop splits s on sep, ignoring separators nested inside parentheses.
func splitTop(s, sep string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			out = append(out, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(out, s[start:])
}
