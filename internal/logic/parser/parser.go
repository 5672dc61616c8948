// Package parser builds an ast.Expr tree from the logic expression language
// (spec §4.5, §6) by recursive descent. The grammar's precedence climbs
// or < and < comparison < additive < multiplicative < unary-not < primary.
package parser

import (
	"fmt"
	"strings"

	"github.com/drmem/drmemd/internal/logic/ast"
	"github.com/drmem/drmemd/internal/logic/lexer"
	"github.com/drmem/drmemd/internal/value"
)

// Program is a parsed logic block: an expression bound to a single output
// local name (spec's "expr -> {name}" form).
type Program struct {
	Body   ast.Expr
	Output string
}

type Parser struct {
	lx   *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token
}

// Parse parses a complete "expr -> {name}" logic entry. The whole input
// must be consumed; trailing tokens are a ParseError.
func Parse(src string) (*Program, error) {
	p := &Parser{lx: lexer.New(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.ARROW); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.IDENT {
		return nil, fmt.Errorf("expected output name after '{', got %q", p.cur.Text)
	}
	name := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.EOF {
		return nil, fmt.Errorf("unexpected trailing input at %q", p.cur.Text)
	}
	return &Program{Body: body, Output: name}, nil
}

// ParseExpr parses a bare expression with no "-> {name}" suffix, used for
// `defs` entries (spec §4.5).
func ParseExpr(src string) (ast.Expr, error) {
	p := &Parser{lx: lexer.New(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.EOF {
		return nil, fmt.Errorf("unexpected trailing input at %q", p.cur.Text)
	}
	return e, nil
}

func (p *Parser) advance() error {
	t, err := p.lx.Next()
	if err != nil {
		return err
	}
	p.cur = p.peek
	p.peek = t
	return nil
}

func (p *Parser) expect(k lexer.Kind) error {
	if p.cur.Kind != k {
		return fmt.Errorf("unexpected token %q", p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) curIsKeyword(kw string) bool {
	return p.cur.Kind == lexer.IDENT && p.cur.Text == kw
}

func (p *Parser) parseOr() (ast.Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curIsKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &ast.Binary{Op: "or", L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.curIsKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &ast.Binary{Op: "and", L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseCmp() (ast.Expr, error) {
	l, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for {
		op := ""
		switch p.cur.Kind {
		case lexer.EQ:
			op = "="
		case lexer.NE:
			op = "<>"
		case lexer.LT:
			op = "<"
		case lexer.LE:
			op = "<="
		case lexer.GT:
			op = ">"
		case lexer.GE:
			op = ">="
		default:
			return l, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		l = &ast.Binary{Op: op, L: l, R: r}
	}
}

func (p *Parser) parseAdd() (ast.Expr, error) {
	l, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.PLUS || p.cur.Kind == lexer.MINUS {
		op := "+"
		if p.cur.Kind == lexer.MINUS {
			op = "-"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		l = &ast.Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseMul() (ast.Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.STAR || p.cur.Kind == lexer.SLASH || p.cur.Kind == lexer.PERCENT {
		op := map[lexer.Kind]string{lexer.STAR: "*", lexer.SLASH: "/", lexer.PERCENT: "%"}[p.cur.Kind]
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &ast.Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.curIsKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: "not", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	switch {
	case p.cur.Kind == lexer.NUMBER:
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return parseNumberLit(text)

	case p.cur.Kind == lexer.STRING:
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Lit{Value: value.NewStr(text)}, nil

	case p.cur.Kind == lexer.COLOR:
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		c, err := value.ParseColor(text)
		if err != nil {
			return nil, err
		}
		return &ast.Lit{Value: value.NewColor(c)}, nil

	case p.curIsKeyword("true"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Lit{Value: value.NewBool(true)}, nil

	case p.curIsKeyword("false"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Lit{Value: value.NewBool(false)}, nil

	case p.curIsKeyword("if"):
		return p.parseIf()

	case p.cur.Kind == lexer.LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		return e, nil

	case p.cur.Kind == lexer.LBRACE:
		return p.parseReference()

	case p.cur.Kind == lexer.IDENT && !lexer.IsKeyword(p.cur.Text):
		// A bare identifier is valid only as a named color.
		c, err := value.ParseColor(p.cur.Text)
		if err != nil {
			return nil, fmt.Errorf("unexpected token %q", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Lit{Value: value.NewColor(c)}, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", p.cur.Text)
	}
}

func (p *Parser) parseReference() (ast.Expr, error) {
	if err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.IDENT {
		return nil, fmt.Errorf("expected identifier inside '{...}', got %q", p.cur.Text)
	}
	first := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.Kind == lexer.COLON {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != lexer.IDENT {
			return nil, fmt.Errorf("expected field name after ':', got %q", p.cur.Text)
		}
		field := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(lexer.RBRACE); err != nil {
			return nil, err
		}
		return &ast.BuiltIn{Zone: first, Field: field}, nil
	}
	if err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	return &ast.Ident{Name: first}, nil
}

// parseIf handles both "if E1 then E2 else E3 end" and "if E1 then E2 end".
// The bare "IFTE(cond, then, else)" call form some dialects allow is not
// part of this grammar; it surfaces as an ordinary ParseError (unknown
// identifier followed by '(').
func (p *Parser) parseIf() (ast.Expr, error) {
	if err := p.advance(); err != nil { // consume "if"
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.curIsKeyword("then") {
		return nil, fmt.Errorf("expected \"then\", got %q", p.cur.Text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	thenE, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.curIsKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		elseE, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.curIsKeyword("end") {
			return nil, fmt.Errorf("expected \"end\", got %q", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.If{Cond: cond, Then: thenE, Else: elseE}, nil
	}
	if !p.curIsKeyword("end") {
		return nil, fmt.Errorf("expected \"end\" or \"else\", got %q", p.cur.Text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &ast.If{Cond: cond, Then: thenE, Else: nil}, nil
}

// parseNumberLit decides int vs. float from the lexeme's shape rather than
// trying ParseIntLiteral first: fmt.Sscanf("%d", ...) happily scans just the
// leading digits of "3.5" and reports success, so trying int-then-float
// would silently truncate float literals.
func parseNumberLit(text string) (ast.Expr, error) {
	if strings.ContainsAny(text, ".eE") {
		v, err := value.ParseFloatLiteral(text)
		if err != nil {
			return nil, err
		}
		return &ast.Lit{Value: v}, nil
	}
	v, err := value.ParseIntLiteral(text)
	if err != nil {
		return nil, err
	}
	return &ast.Lit{Value: v}, nil
}
