package sqlselect

import (
	"strconv"
	"strings"

	"github.com/flowforge/flowforge/pkg/errors"
)

// Parser is a recursive-descent parser for the restricted SELECT dialect.
type Parser struct {
	lexer *Lexer
	cur   Token
	peek  Token
}

var aggregateFuncs = map[string]bool{
	"COUNT": true,
	"SUM":   true,
	"AVG":   true,
	"MIN":   true,
	"MAX":   true,
}

// Parse parses a single SELECT statement
func Parse(sql string) (*SelectStatement, error) {
	p := &Parser{lexer: NewLexer(sql)}
	p.advance()
	p.advance()
	return p.parseSelect()
}

// ParseExpression parses a standalone expression, used by the
// transformation engine's derive step.
func ParseExpression(input string) (Expr, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != TOKEN_EOF {
		return nil, errors.Newf(errors.ErrorTypeQuery, "unexpected token %q after expression", p.cur.Literal)
	}
	return expr, nil
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) expect(tt TokenType, what string) error {
	if p.cur.Type != tt {
		return errors.Newf(errors.ErrorTypeQuery, "expected %s, got %q", what, p.cur.Literal)
	}
	p.advance()
	return nil
}

func (p *Parser) parseSelect() (*SelectStatement, error) {
	if err := p.expect(TOKEN_SELECT, "SELECT"); err != nil {
		return nil, err
	}

	stmt := &SelectStatement{Limit: -1}

	// Projection list
	if p.cur.Type == TOKEN_STAR {
		p.advance()
	} else {
		for {
			item, err := p.parseSelectItem()
			if err != nil {
				return nil, err
			}
			stmt.Items = append(stmt.Items, item)
			if p.cur.Type != TOKEN_COMMA {
				break
			}
			p.advance()
		}
	}

	if err := p.expect(TOKEN_FROM, "FROM"); err != nil {
		return nil, err
	}
	if p.cur.Type != TOKEN_IDENT {
		return nil, errors.Newf(errors.ErrorTypeQuery, "expected collection name, got %q", p.cur.Literal)
	}
	stmt.Collection = p.cur.Literal
	p.advance()

	if p.cur.Type == TOKEN_WHERE {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.cur.Type == TOKEN_LIMIT {
		p.advance()
		if p.cur.Type != TOKEN_NUMBER {
			return nil, errors.Newf(errors.ErrorTypeQuery, "expected LIMIT count, got %q", p.cur.Literal)
		}
		n, err := strconv.Atoi(p.cur.Literal)
		if err != nil || n < 0 {
			return nil, errors.Newf(errors.ErrorTypeQuery, "invalid LIMIT %q", p.cur.Literal)
		}
		stmt.Limit = n
		p.advance()
	}

	if p.cur.Type == TOKEN_SEMICOLON {
		p.advance()
	}
	if p.cur.Type != TOKEN_EOF {
		return nil, errors.Newf(errors.ErrorTypeQuery, "unexpected token %q", p.cur.Literal)
	}

	return stmt, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	// Aggregate: IDENT '(' (* | ident) ')'
	if p.cur.Type == TOKEN_IDENT && p.peek.Type == TOKEN_LPAREN {
		fn := strings.ToUpper(p.cur.Literal)
		if aggregateFuncs[fn] {
			p.advance() // function name
			p.advance() // lparen

			item := SelectItem{Aggregate: fn}
			switch {
			case p.cur.Type == TOKEN_STAR:
				if fn != "COUNT" {
					return SelectItem{}, errors.Newf(errors.ErrorTypeQuery, "%s(*) is not supported", fn)
				}
				item.Column = "*"
				p.advance()
			case p.cur.Type == TOKEN_IDENT:
				item.Column = p.cur.Literal
				p.advance()
			default:
				return SelectItem{}, errors.Newf(errors.ErrorTypeQuery, "expected column in %s(), got %q", fn, p.cur.Literal)
			}
			if err := p.expect(TOKEN_RPAREN, ")"); err != nil {
				return SelectItem{}, err
			}

			alias, err := p.parseAlias()
			if err != nil {
				return SelectItem{}, err
			}
			item.Alias = alias
			return item, nil
		}
	}

	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	alias, err := p.parseAlias()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Expr: expr, Alias: alias}, nil
}

func (p *Parser) parseAlias() (string, error) {
	if p.cur.Type != TOKEN_AS {
		return "", nil
	}
	p.advance()
	if p.cur.Type != TOKEN_IDENT {
		return "", errors.Newf(errors.ErrorTypeQuery, "expected alias after AS, got %q", p.cur.Literal)
	}
	alias := p.cur.Literal
	p.advance()
	return alias, nil
}

// parseExpr := parseAnd (OR parseAnd)*
func (p *Parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TOKEN_OR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "OR", Right: right}
	}
	return left, nil
}

// parseAnd := parseNot (AND parseNot)*
func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TOKEN_AND {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "AND", Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.cur.Type == TOKEN_NOT {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

// parseComparison := parseAdditive ((=|!=|<|<=|>|>=) parseAdditive | IS (NOT)? NULL)?
func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch p.cur.Type {
	case TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_LE, TOKEN_GT, TOKEN_GE:
		op := p.cur.Literal
		if p.cur.Type == TOKEN_NE {
			op = "!="
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: left, Op: op, Right: right}, nil
	case TOKEN_IS:
		p.advance()
		negate := false
		if p.cur.Type == TOKEN_NOT {
			negate = true
			p.advance()
		}
		if err := p.expect(TOKEN_NULL, "NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: left, Negate: negate}, nil
	}

	return left, nil
}

// parseAdditive := parseMultiplicative ((+|-|'||') parseMultiplicative)*
func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TOKEN_PLUS || p.cur.Type == TOKEN_MINUS || p.cur.Type == TOKEN_CONCAT {
		op := p.cur.Literal
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
	return left, nil
}

// parseMultiplicative := parseUnary ((*|/|%) parseUnary)*
func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TOKEN_STAR || p.cur.Type == TOKEN_SLASH || p.cur.Type == TOKEN_MOD {
		op := p.cur.Literal
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur.Type == TOKEN_MINUS {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Type {
	case TOKEN_NUMBER:
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeQuery, "invalid number %q", p.cur.Literal)
		}
		lit := &NumberLit{Value: v, Literal: p.cur.Literal}
		p.advance()
		return lit, nil
	case TOKEN_STRING:
		lit := &StringLit{Value: p.cur.Literal}
		p.advance()
		return lit, nil
	case TOKEN_TRUE:
		p.advance()
		return &BoolLit{Value: true}, nil
	case TOKEN_FALSE:
		p.advance()
		return &BoolLit{Value: false}, nil
	case TOKEN_NULL:
		p.advance()
		return &NullLit{}, nil
	case TOKEN_IDENT:
		ref := &ColumnRef{Name: p.cur.Literal}
		p.advance()
		return ref, nil
	case TOKEN_LPAREN:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TOKEN_RPAREN, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeQuery, "unexpected token %q", p.cur.Literal)
	}
}
