// Package expr implements the small boolean expression language used as
// flow guards in rule files. An expression reads turn variables and
// supports length comparisons, substring containment, negation and
// conjunction:
//
//	len($response) > 500
//	$response contains "according to" and not $response contains "Source:"
//
// Expressions are compiled once at rule load time; evaluation is
// deterministic and side-effect free. A reference to a variable that is
// not set does not fail the turn; it makes the containing expression
// evaluate to false.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled predicate expression.
type Expr struct {
	root   node
	source string
}

// String returns the original expression text.
func (e *Expr) String() string {
	return e.source
}

// Evaluate runs the expression against the given variables. An
// expression touching an unset variable evaluates to false.
func (e *Expr) Evaluate(vars map[string]string) bool {
	v, defined := e.root.eval(vars)
	return defined && v
}

// node is a compiled expression tree node. eval returns the value and
// whether every variable it touched was defined; an undefined operand
// poisons the whole expression.
type node interface {
	eval(vars map[string]string) (value, defined bool)
}

type andNode struct{ left, right node }

func (n *andNode) eval(vars map[string]string) (bool, bool) {
	lv, lok := n.left.eval(vars)
	rv, rok := n.right.eval(vars)
	return lv && rv, lok && rok
}

type notNode struct{ inner node }

func (n *notNode) eval(vars map[string]string) (bool, bool) {
	v, ok := n.inner.eval(vars)
	return !v, ok
}

type lenCmpNode struct {
	variable string
	op       string
	operand  int
}

func (n *lenCmpNode) eval(vars map[string]string) (bool, bool) {
	s, ok := vars[n.variable]
	if !ok {
		return false, false
	}
	l := len(s)
	switch n.op {
	case ">":
		return l > n.operand, true
	case ">=":
		return l >= n.operand, true
	case "<":
		return l < n.operand, true
	case "<=":
		return l <= n.operand, true
	case "==":
		return l == n.operand, true
	case "!=":
		return l != n.operand, true
	}
	return false, false
}

type containsNode struct {
	variable string
	needle   string
}

func (n *containsNode) eval(vars map[string]string) (bool, bool) {
	s, ok := vars[n.variable]
	if !ok {
		return false, false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(n.needle)), true
}

// Parse compiles an expression. A malformed expression is a load-time
// error; the rule set referencing it must fail to load.
func Parse(source string) (*Expr, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", source, err)
	}
	p := &parser{tokens: toks}
	root, err := p.parseConjunction()
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", source, err)
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("predicate %q: unexpected %q", source, p.peek().text)
	}
	return &Expr{root: root, source: source}, nil
}

// token kinds
const (
	tokIdent = iota // len, and, not, contains
	tokVar          // $name
	tokNumber
	tokString
	tokOp // > >= < <= == !=
	tokLParen
	tokRParen
)

type token struct {
	kind int
	text string
}

func lex(source string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(source) {
		c := rune(source[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '$':
			j := i + 1
			for j < len(source) && isIdentChar(rune(source[j])) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("bare '$' at offset %d", i)
			}
			toks = append(toks, token{tokVar, source[i:j]})
			i = j
		case c == '"' || c == '\'':
			quote := source[i]
			j := i + 1
			for j < len(source) && source[j] != quote {
				j++
			}
			if j == len(source) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, source[i+1 : j]})
			i = j + 1
		case strings.ContainsRune("><=!", c):
			j := i + 1
			if j < len(source) && source[j] == '=' {
				j++
			}
			op := source[i:j]
			switch op {
			case ">", ">=", "<", "<=", "==", "!=":
				toks = append(toks, token{tokOp, op})
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			i = j
		case unicode.IsDigit(c):
			j := i
			for j < len(source) && unicode.IsDigit(rune(source[j])) {
				j++
			}
			toks = append(toks, token{tokNumber, source[i:j]})
			i = j
		case unicode.IsLetter(c):
			j := i
			for j < len(source) && isIdentChar(rune(source[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, source[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isIdentChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{kind: -1}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(kind int, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *parser) parseConjunction() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		inner, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case t.kind == tokIdent && (t.text == "len" || t.text == "length"):
		return p.parseLenComparison()
	case t.kind == tokVar:
		return p.parseContains()
	}
	return nil, fmt.Errorf("expected expression, got %q", t.text)
}

func (p *parser) parseLenComparison() (node, error) {
	p.next() // len
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	v, err := p.expect(tokVar, "variable")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	op, err := p.expect(tokOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	num, err := p.expect(tokNumber, "number")
	if err != nil {
		return nil, err
	}
	operand, err := strconv.Atoi(num.text)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", num.text)
	}
	return &lenCmpNode{variable: v.text, op: op.text, operand: operand}, nil
}

func (p *parser) parseContains() (node, error) {
	v := p.next()
	kw, err := p.expect(tokIdent, "'contains'")
	if err != nil {
		return nil, err
	}
	if kw.text != "contains" {
		return nil, fmt.Errorf("expected 'contains', got %q", kw.text)
	}
	s, err := p.expect(tokString, "quoted string")
	if err != nil {
		return nil, err
	}
	return &containsNode{variable: v.text, needle: s.text}, nil
}
