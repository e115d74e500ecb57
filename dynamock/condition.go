package dynamock

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
)

// condition reports whether an item satisfies a parsed expression. A nil
// item stands for a row that does not exist.
type condition func(item tempest.Item) bool

// operand resolves one side of a comparison; nil means the attribute is
// absent.
type operand func(item tempest.Item) types.AttributeValue

// parseCondition parses the subset of the DynamoDB condition grammar produced
// by the expression builder: comparisons, BETWEEN, IN, AND, OR, NOT and the
// functions attribute_exists, attribute_not_exists, begins_with and
// contains. Nested document paths are not supported.
func parseCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (condition, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, names: names, values: values}
	cond, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("invalid expression %q: unexpected %q", expr, tok.text)
	}
	return cond, nil
}

// projectNames resolves a projection expression to attribute names.
func projectNames(expr string, names map[string]string) ([]string, error) {
	var attrs []string
	for _, part := range strings.Split(expr, ",") {
		name, err := resolveName(strings.TrimSpace(part), names)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, name)
	}
	return attrs, nil
}

func resolveName(path string, names map[string]string) (string, error) {
	if strings.ContainsAny(path, ".[") {
		return "", fmt.Errorf("nested path %q is not supported", path)
	}
	if strings.HasPrefix(path, "#") {
		name, ok := names[path]
		if !ok {
			return "", fmt.Errorf("undefined attribute name %s", path)
		}
		return name, nil
	}
	return path, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenOp
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ","})
			i++
		case c == '=':
			tokens = append(tokens, token{tokenOp, "="})
			i++
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(expr) && (expr[i+1] == '=' || (c == '<' && expr[i+1] == '>')) {
				op += string(expr[i+1])
			}
			tokens = append(tokens, token{tokenOp, op})
			i += len(op)
		case isIdentChar(rune(c)):
			start := i
			for i < len(expr) && isIdentChar(rune(expr[i])) {
				i++
			}
			tokens = append(tokens, token{tokenIdent, expr[start:i]})
		default:
			return nil, fmt.Errorf("invalid expression %q: unexpected character %q", expr, c)
		}
	}
	return append(tokens, token{kind: tokenEOF}), nil
}

func isIdentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_#:.[]-", r)
}

type parser struct {
	tokens []token
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) keyword(word string) bool {
	tok := p.peek()
	if tok.kind == tokenIdent && strings.EqualFold(tok.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) error {
	if tok := p.next(); tok.kind != kind {
		return fmt.Errorf("expected %q, got %q", text, tok.text)
	}
	return nil
}

func (p *parser) parseOr() (condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(item tempest.Item) bool { return l(item) || right(item) }
	}
	return left, nil
}

func (p *parser) parseAnd() (condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(item tempest.Item) bool { return l(item) && right(item) }
	}
	return left, nil
}

func (p *parser) parseNot() (condition, error) {
	if p.keyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return func(item tempest.Item) bool { return !inner(item) }, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (condition, error) {
	tok := p.peek()
	if tok.kind == tokenLParen {
		p.next()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return cond, p.expect(tokenRParen, ")")
	}
	if tok.kind == tokenIdent && p.tokens[p.pos+1].kind == tokenLParen {
		return p.parseFunction()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch {
	case p.keyword("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN")
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return func(item tempest.Item) bool {
			v := left(item)
			c1, ok1 := compareValues(v, lo(item))
			c2, ok2 := compareValues(v, hi(item))
			return ok1 && ok2 && c1 >= 0 && c2 <= 0
		}, nil
	case p.keyword("IN"):
		list, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		return func(item tempest.Item) bool {
			v := left(item)
			for _, candidate := range list {
				if equalValues(v, candidate(item)) {
					return true
				}
			}
			return false
		}, nil
	}

	op := p.next()
	if op.kind != tokenOp {
		return nil, fmt.Errorf("expected comparison, got %q", op.text)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return comparison(op.text, left, right), nil
}

func comparison(op string, left, right operand) condition {
	if op == "=" {
		return func(item tempest.Item) bool { return equalValues(left(item), right(item)) }
	}
	if op == "<>" {
		return func(item tempest.Item) bool {
			l, r := left(item), right(item)
			return l != nil && r != nil && !equalValues(l, r)
		}
	}
	return func(item tempest.Item) bool {
		c, ok := compareValues(left(item), right(item))
		if !ok {
			return false
		}
		switch op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		default:
			return c >= 0
		}
	}
}

func (p *parser) parseFunction() (condition, error) {
	name := strings.ToLower(p.next().text)
	arity := map[string]int{
		"attribute_exists":     1,
		"attribute_not_exists": 1,
		"begins_with":          2,
		"contains":             2,
	}
	n, ok := arity[name]
	if !ok {
		return nil, fmt.Errorf("unsupported function %s", name)
	}
	args, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	if len(args) != n {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, n, len(args))
	}

	switch name {
	case "attribute_exists":
		return func(item tempest.Item) bool { return args[0](item) != nil }, nil
	case "attribute_not_exists":
		return func(item tempest.Item) bool { return args[0](item) == nil }, nil
	case "begins_with":
		return func(item tempest.Item) bool { return beginsWith(args[0](item), args[1](item)) }, nil
	default:
		return func(item tempest.Item) bool { return contains(args[0](item), args[1](item)) }, nil
	}
}

func (p *parser) parseArguments() ([]operand, error) {
	if err := p.expect(tokenLParen, "("); err != nil {
		return nil, err
	}
	var args []operand
	for {
		arg, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tokenComma {
			break
		}
		p.next()
	}
	return args, p.expect(tokenRParen, ")")
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.next()
	if tok.kind != tokenIdent {
		return nil, fmt.Errorf("expected operand, got %q", tok.text)
	}
	if strings.HasPrefix(tok.text, ":") {
		v, ok := p.values[tok.text]
		if !ok {
			return nil, fmt.Errorf("undefined attribute value %s", tok.text)
		}
		return func(tempest.Item) types.AttributeValue { return v }, nil
	}
	name, err := resolveName(tok.text, p.names)
	if err != nil {
		return nil, err
	}
	return func(item tempest.Item) types.AttributeValue {
		if item == nil {
			return nil
		}
		v := item[name]
		if _, isNull := v.(*types.AttributeValueMemberNULL); isNull {
			return nil
		}
		return v
	}, nil
}

// compareValues orders two scalar values of the same type.
func compareValues(a, b types.AttributeValue) (int, bool) {
	switch a := a.(type) {
	case *types.AttributeValueMemberS:
		if b, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(a.Value, b.Value), true
		}
	case *types.AttributeValueMemberN:
		if b, ok := b.(*types.AttributeValueMemberN); ok {
			x, err1 := strconv.ParseFloat(a.Value, 64)
			y, err2 := strconv.ParseFloat(b.Value, 64)
			if err1 != nil || err2 != nil {
				return 0, false
			}
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	case *types.AttributeValueMemberB:
		if b, ok := b.(*types.AttributeValueMemberB); ok {
			return bytes.Compare(a.Value, b.Value), true
		}
	}
	return 0, false
}

func equalValues(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return false
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func beginsWith(v, prefix types.AttributeValue) bool {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		p, ok := prefix.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(v.Value, p.Value)
	case *types.AttributeValueMemberB:
		p, ok := prefix.(*types.AttributeValueMemberB)
		return ok && bytes.HasPrefix(v.Value, p.Value)
	}
	return false
}

func contains(v, elem types.AttributeValue) bool {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		e, ok := elem.(*types.AttributeValueMemberS)
		return ok && strings.Contains(v.Value, e.Value)
	case *types.AttributeValueMemberSS:
		e, ok := elem.(*types.AttributeValueMemberS)
		return ok && slices.Contains(v.Value, e.Value)
	case *types.AttributeValueMemberNS:
		e, ok := elem.(*types.AttributeValueMemberN)
		return ok && slices.Contains(v.Value, e.Value)
	case *types.AttributeValueMemberL:
		for _, member := range v.Value {
			if equalValues(member, elem) {
				return true
			}
		}
	}
	return false
}
