package pattern

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// Pattern source is a small s-expression language:
//
//	(add:i32 (load@ld $ch $p) #y)   match tree
//	(AHI $x #y)                     emission template
//	(AR $x (LHI:i32 #5))            nested emission
//
// In match trees $x binds any value, _ is an anonymous wildcard, #y binds an
// integer constant, #5 requires that constant, (op@n ...) binds the node and
// :type constrains a result type. In templates $x.1 references result 1 of
// a bound value and (OP:t1,t2 ...) gives the emitted result types.

type tokenType int

const (
	tokEOF tokenType = iota
	tokLParen
	tokRParen
	tokAtom
)

type token struct {
	typ tokenType
	lit string
	pos int
}

type sexprLexer struct {
	input string
	pos   int
}

func (l *sexprLexer) next() token {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokEOF, pos: l.pos}
	}
	start := l.pos
	switch l.input[l.pos] {
	case '(':
		l.pos++
		return token{typ: tokLParen, lit: "(", pos: start}
	case ')':
		l.pos++
		return token{typ: tokRParen, lit: ")", pos: start}
	}
	for l.pos < len(l.input) && !isSpace(l.input[l.pos]) && l.input[l.pos] != '(' && l.input[l.pos] != ')' {
		l.pos++
	}
	return token{typ: tokAtom, lit: l.input[start:l.pos], pos: start}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

type sexprParser struct {
	src string
	l   *sexprLexer
	cur token
}

func newSexprParser(src string) *sexprParser {
	p := &sexprParser{src: src, l: &sexprLexer{input: src}}
	p.cur = p.l.next()
	return p
}

func (p *sexprParser) advance() {
	p.cur = p.l.next()
}

func (p *sexprParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%q at offset %d: %s", p.src, p.cur.pos, fmt.Sprintf(format, args...))
}

func (p *sexprParser) expectEOF() error {
	if p.cur.typ != tokEOF {
		return p.errorf("unexpected %q after expression", p.cur.lit)
	}
	return nil
}

// ParseMatch parses a match tree. The root must be a node pattern.
func ParseMatch(src string) (*Operand, error) {
	p := newSexprParser(src)
	if p.cur.typ != tokLParen {
		return nil, p.errorf("match tree must start with '('")
	}
	op, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return op, nil
}

func (p *sexprParser) parseOperand() (*Operand, error) {
	switch p.cur.typ {
	case tokLParen:
		p.advance()
		if p.cur.typ != tokAtom {
			return nil, p.errorf("expected opcode")
		}
		op, name, types, err := splitHead(p.cur.lit)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		if len(types) > 1 {
			return nil, p.errorf("match node takes at most one result type")
		}
		node := &Operand{Kind: KindNode, Op: dag.Opcode(op), Name: name}
		if len(types) == 1 {
			node.Type = types[0]
		}
		p.advance()
		for p.cur.typ != tokRParen {
			if p.cur.typ == tokEOF {
				return nil, p.errorf("unterminated %q", op)
			}
			sub, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			node.Operands = append(node.Operands, sub)
		}
		p.advance()
		return node, nil

	case tokAtom:
		lit := p.cur.lit
		body, typ, err := splitType(lit)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		var o *Operand
		switch {
		case body == "_":
			o = &Operand{Kind: KindAny}
		case strings.HasPrefix(body, "$"):
			name := body[1:]
			if !isIdent(name) {
				return nil, p.errorf("bad binding name %q", lit)
			}
			o = &Operand{Kind: KindAny, Name: name}
		case strings.HasPrefix(body, "#"):
			o = &Operand{Kind: KindImm}
			if v, err := parseInt(body[1:]); err == nil {
				o.Literal = &v
			} else if isIdent(body[1:]) {
				o.Name = body[1:]
			} else {
				return nil, p.errorf("bad immediate %q", lit)
			}
		default:
			return nil, p.errorf("unexpected atom %q", lit)
		}
		o.Type = typ
		p.advance()
		return o, nil

	case tokRParen:
		return nil, p.errorf("unexpected ')'")
	}
	return nil, p.errorf("unexpected end of input")
}

// ParseTemplate parses an emission template.
func ParseTemplate(src string) (*Template, error) {
	p := newSexprParser(src)
	if p.cur.typ != tokLParen {
		return nil, p.errorf("template must start with '('")
	}
	t, err := p.parseTemplate()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *sexprParser) parseTemplate() (*Template, error) {
	p.advance() // '('
	if p.cur.typ != tokAtom {
		return nil, p.errorf("expected opcode")
	}
	op, name, types, err := splitHead(p.cur.lit)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	if name != "" {
		return nil, p.errorf("templates cannot bind names")
	}
	t := &Template{Op: dag.Opcode(op), Types: types}
	p.advance()
	for p.cur.typ != tokRParen {
		switch p.cur.typ {
		case tokEOF:
			return nil, p.errorf("unterminated %q", op)
		case tokLParen:
			sub, err := p.parseTemplate()
			if err != nil {
				return nil, err
			}
			t.Args = append(t.Args, &Arg{Kind: ArgEmit, Emit: sub})
			continue
		}
		arg, err := parseArg(p.cur.lit)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		t.Args = append(t.Args, arg)
		p.advance()
	}
	p.advance()
	return t, nil
}

func parseArg(lit string) (*Arg, error) {
	switch {
	case strings.HasPrefix(lit, "$"):
		name, res := lit[1:], 0
		if i := strings.IndexByte(name, '.'); i >= 0 {
			n, err := strconv.Atoi(name[i+1:])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bad result index in %q", lit)
			}
			name, res = name[:i], n
		}
		if !isIdent(name) {
			return nil, fmt.Errorf("bad binding name %q", lit)
		}
		return &Arg{Kind: ArgValue, Name: name, Res: res}, nil
	case strings.HasPrefix(lit, "#"):
		if v, err := parseInt(lit[1:]); err == nil {
			return &Arg{Kind: ArgLiteral, Literal: v}, nil
		}
		if isIdent(lit[1:]) {
			return &Arg{Kind: ArgImm, Name: lit[1:]}, nil
		}
		return nil, fmt.Errorf("bad immediate %q", lit)
	}
	return nil, fmt.Errorf("unexpected atom %q", lit)
}

// splitHead splits "op@name:t1,t2" into its parts.
func splitHead(head string) (op, name string, types []dag.Type, err error) {
	op = head
	if i := strings.IndexByte(op, ':'); i >= 0 {
		for _, ts := range strings.Split(op[i+1:], ",") {
			t, err := dag.ParseType(ts)
			if err != nil {
				return "", "", nil, err
			}
			types = append(types, t)
		}
		op = op[:i]
	}
	if i := strings.IndexByte(op, '@'); i >= 0 {
		name = op[i+1:]
		op = op[:i]
		if !isIdent(name) {
			return "", "", nil, fmt.Errorf("bad binding name %q", head)
		}
	}
	if !isIdent(op) {
		return "", "", nil, fmt.Errorf("bad opcode %q", head)
	}
	return op, name, types, nil
}

func splitType(atom string) (string, dag.Type, error) {
	i := strings.IndexByte(atom, ':')
	if i < 0 {
		return atom, dag.TypeInvalid, nil
	}
	t, err := dag.ParseType(atom[i+1:])
	if err != nil {
		return "", dag.TypeInvalid, err
	}
	return atom[:i], t, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '-':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
