// Package parser's core recursive-descent implementation (spec.md
// §4.3); all binary operators share one precedence level and associate
// left. Grounded on runtime/parser/parser.go's
// shape (a flat token slice with a cursor, rather than re-invoking the
// lexer lazily, which makes the assignment-target/block-parameter
// lookahead below trivial to implement as save/restore of an index).
package parser

import (
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/lexer"
)

// Parser turns a flat token slice into a Program.
type Parser struct {
	name string
	toks []lexer.Token
	pos  int
	cfg  config
}

func New(name string, toks []lexer.Token, opts ...Option) *Parser {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Parser{name: name, toks: toks, cfg: cfg}
}

// Parse lexes and parses src in one call.
func Parse(name, src string, opts ...Option) (*Program, *diag.Error) {
	toks, err := lexer.All(name, src, nil)
	if err != nil {
		return nil, err
	}
	return New(name, toks, opts...).ParseProgram()
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) atEnd() bool       { return p.cur().Type == lexer.EOF }
func (p *Parser) check(tt lexer.TokenType) bool {
	return p.pos < len(p.toks) && p.cur().Type == tt
}
func (p *Parser) checkOp(text string) bool {
	return p.check(lexer.OPERATOR) && p.cur().Text == text
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *Parser) expect(tt lexer.TokenType, want string) (lexer.Token, *diag.Error) {
	if !p.check(tt) {
		return lexer.Token{}, p.unexpected(p.cur(), want)
	}
	return p.advance(), nil
}

func (p *Parser) skipNewlines() {
	for p.check(lexer.NEWLINE) || p.check(lexer.SEMICOLON) {
		p.advance()
	}
}

func wrapTuple(n Node) *Tuple {
	if t, ok := n.(*Tuple); ok {
		return t
	}
	b, e := n.Tokens()
	return &Tuple{base: base{begin: b, end: e}, Children: []Node{n}}
}

// ParseProgram parses the full token stream (spec.md §4.3 "A program body
// is a list of tuples").
func (p *Parser) ParseProgram() (*Program, *diag.Error) {
	begin := p.cur()
	body := &Tuple{base: base{begin: begin}}

	p.skipNewlines()
	for !p.atEnd() {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body.Children = append(body.Children, stmt)

		if !p.check(lexer.NEWLINE) && !p.check(lexer.SEMICOLON) && !p.atEnd() {
			return nil, p.unexpected(p.cur(), "newline, ';', or end of input")
		}
		p.skipNewlines()
	}
	body.end = p.cur()
	return &Program{base: base{begin: begin, end: p.cur()}, Body: body}, nil
}

func (p *Parser) parseStatement() (Node, *diag.Error) {
	targets, matched, err := p.tryParseAssignTargets()
	if err != nil {
		return nil, err
	}
	if matched {
		begin := targets[0].tok
		rhs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		var rhsNode Node = rhs
		if len(rhs.Children) == 1 {
			rhsNode = rhs.Children[0]
		}
		pats := make([]Pattern, len(targets))
		for i, t := range targets {
			pats[i] = t.Pattern
		}
		_, end := rhsNode.Tokens()
		return &Assign{base: base{begin: begin, end: end}, Targets: pats, RHS: rhsNode}, nil
	}
	return p.parseBinarySend()
}

type targetTok struct {
	Pattern
	tok lexer.Token
}

// tryParseAssignTargets attempts to consume `pat (',' pat)* '='` from the
// current position, restoring position and returning matched=false if it
// does not find that shape (spec.md §4.4: the LHS of `=` is a list of
// target patterns; at most one splat is allowed).
func (p *Parser) tryParseAssignTargets() (targets []targetTok, matched bool, err *diag.Error) {
	start := p.pos
	splats := 0
	for {
		splat := SplatNone
		tok := p.cur()
		if p.checkOp("*") {
			splat = SplatList
			p.advance()
			tok = p.cur()
		} else if p.checkOp("**") {
			splat = SplatRecord
			p.advance()
			tok = p.cur()
		}
		if !p.check(lexer.SYMBOL) {
			p.pos = start
			return nil, false, nil
		}
		name := p.advance().Text
		if splat != SplatNone {
			splats++
		}
		targets = append(targets, targetTok{Pattern: Pattern{Name: name, Splat: splat}, tok: tok})
		if p.check(lexer.COMMA) {
			p.advance()
			continue
		}
		break
	}
	if !p.check(lexer.ASSIGN) {
		p.pos = start
		return nil, false, nil
	}
	if splats > 1 {
		return nil, true, p.errorf(diag.KindMalformedAssign, p.cur(), "at most one splat target is allowed")
	}
	p.advance() // consume '='
	return targets, true, nil
}

func (p *Parser) parseExprList() (*Tuple, *diag.Error) {
	begin := p.cur()
	t := &Tuple{base: base{begin: begin}}
	for {
		e, err := p.parseBinarySend()
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, e)
		if p.check(lexer.COMMA) {
			p.advance()
			continue
		}
		break
	}
	t.end = p.cur()
	return t, nil
}

// parseBinarySend: left-associative chain of operator sends
// (spec.md §4.4 "binary-send").
func (p *Parser) parseBinarySend() (Node, *diag.Error) {
	left, err := p.parseKeywordSend()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.OPERATOR) {
		op := p.advance()
		right, err := p.parseKeywordSend()
		if err != nil {
			return nil, err
		}
		_, rend := right.Tokens()
		lbegin, _ := left.Tokens()
		left = &Send{base: base{begin: lbegin, end: rend}, LHS: wrapTuple(left), Msg: op, RHS: wrapTuple(right)}
	}
	return left, nil
}

// parseKeywordSend: `recv msg: arg, arg` and `recv.msg: arg` chains
// (spec.md §4.4 "send").
func (p *Parser) parseKeywordSend() (Node, *diag.Error) {
	recv, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if p.check(lexer.DOT) {
			p.advance()
			msg, err := p.expectMessageName()
			if err != nil {
				return nil, err
			}
			args, err := p.parseOptionalArgs(msg)
			if err != nil {
				return nil, err
			}
			recv = buildSend(recv, msg, args)
			continue
		}
		if p.check(lexer.MESSAGE) {
			msg := p.advance()
			args, err := p.parseOptionalArgs(msg)
			if err != nil {
				return nil, err
			}
			recv = buildSend(recv, msg, args)
			continue
		}
		break
	}
	return recv, nil
}

// buildSend wraps recv/msg/args into a Send, except for the `Type.make:`
// constructor sugar (spec.md §4.3 Record/List/Shape/Fiber/Channel
// constructors), which parses to a dedicated MakeExpr node instead.
func buildSend(recv Node, msg lexer.Token, args *Tuple) Node {
	lbegin, _ := recv.Tokens()
	_, aend := args.Tokens()
	if msg.Text == "make:" {
		if _, ok := recv.(*Ident); ok {
			return &MakeExpr{base: base{begin: lbegin, end: aend}, Type: lbegin, Args: args}
		}
	}
	return &Send{base: base{begin: lbegin, end: aend}, LHS: wrapTuple(recv), Msg: msg, RHS: args}
}

func (p *Parser) expectMessageName() (lexer.Token, *diag.Error) {
	switch {
	case p.check(lexer.MESSAGE):
		return p.advance(), nil
	case p.check(lexer.SYMBOL):
		return p.advance(), nil
	case p.check(lexer.OPERATOR):
		return p.advance(), nil
	default:
		return lexer.Token{}, p.unexpected(p.cur(), "a message name")
	}
}

// parseOptionalArgs parses the comma-separated argument list following a
// MESSAGE token, or an empty tuple for a plain (non-colon) property read.
func (p *Parser) parseOptionalArgs(msg lexer.Token) (*Tuple, *diag.Error) {
	if msg.Type != lexer.MESSAGE {
		return &Tuple{base: base{begin: msg, end: msg}}, nil
	}
	args, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if n := len(args.Children); n > p.cfg.maxArgs {
		return nil, p.errorf(diag.KindMalformedExpression, msg,
			"send takes %d arguments, exceeding the configured maximum of %d", n, p.cfg.maxArgs)
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Node, *diag.Error) {
	tok := p.cur()
	switch tok.Type {
	case lexer.NUMBER:
		p.advance()
		return &Number{base: base{begin: tok, end: tok}, Text: tok.Text}, nil
	case lexer.STRING:
		p.advance()
		return &String{base: base{begin: tok, end: tok}, Value: tok.Text}, nil
	case lexer.SYMBOL:
		if blk, ok, err := p.tryParseBlockExpr(); ok || err != nil {
			return blk, err
		}
		p.advance()
		if isSigilName(tok.Text) {
			return &Sigil{base: base{begin: tok, end: tok}, Name: tok.Text}, nil
		}
		return &Ident{base: base{begin: tok, end: tok}, Name: tok.Text}, nil
	case lexer.LPAREN:
		if blk, ok, err := p.tryParseBlockExpr(); ok || err != nil {
			return blk, err
		}
		p.advance()
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
			return nil, err
		}
		if len(list.Children) == 1 {
			return list.Children[0], nil
		}
		return list, nil
	case lexer.LBRACE:
		return p.parseRecordLit()
	case lexer.LBRACKET:
		return p.parseListLit()
	case lexer.DO:
		return p.parseDoEnd()
	default:
		return nil, p.unexpected(tok, "an expression")
	}
}

func isSigilName(s string) bool {
	switch s {
	case "nil", "true", "false", "ok", "err", "none":
		return true
	default:
		return false
	}
}

// tryParseBlockExpr recognizes `ident (, ident)* => body`, `() => body`,
// or `(ident, ...) => body` (spec.md §4.4 "Block expression").
func (p *Parser) tryParseBlockExpr() (Node, bool, *diag.Error) {
	start := p.pos
	var params []string

	if p.check(lexer.LPAREN) {
		p.advance()
		for p.check(lexer.SYMBOL) {
			params = append(params, p.advance().Text)
			if p.check(lexer.COMMA) {
				p.advance()
				continue
			}
			break
		}
		if !p.check(lexer.RPAREN) {
			p.pos = start
			return nil, false, nil
		}
		p.advance()
	} else if p.check(lexer.SYMBOL) {
		params = append(params, p.advance().Text)
		for p.check(lexer.COMMA) {
			p.advance()
			if !p.check(lexer.SYMBOL) {
				p.pos = start
				return nil, false, nil
			}
			params = append(params, p.advance().Text)
		}
	} else {
		return nil, false, nil
	}

	if !p.check(lexer.ARROW) {
		p.pos = start
		return nil, false, nil
	}
	begin := p.toks[start]
	p.advance() // '=>'

	body, err := p.parseBlockBody()
	if err != nil {
		return nil, true, err
	}
	_, end := body.Tokens()
	return &BlockExpr{base: base{begin: begin, end: end}, Params: params, Body: body}, true, nil
}

// parseBlockBody parses either a single expression (the common case,
// `x => x + 1`) or a `do ... end` multi-statement body.
func (p *Parser) parseBlockBody() (*Tuple, *diag.Error) {
	if p.check(lexer.DO) {
		n, err := p.parseDoEnd()
		if err != nil {
			return nil, err
		}
		return n.(*Tuple), nil
	}
	e, err := p.parseBinarySend()
	if err != nil {
		return nil, err
	}
	return wrapTuple(e), nil
}

func (p *Parser) parseDoEnd() (Node, *diag.Error) {
	begin, err := p.expect(lexer.DO, "do")
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	body := &Tuple{base: base{begin: begin}}
	for !p.check(lexer.END) {
		if p.atEnd() {
			return nil, p.errorf(diag.KindUnexpectedEOF, p.cur(), "unterminated 'do' block, expected 'end'")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body.Children = append(body.Children, stmt)
		p.skipNewlines()
	}
	end := p.advance() // 'end'
	body.end = end
	return body, nil
}

func (p *Parser) parseRecordLit() (Node, *diag.Error) {
	begin, _ := p.expect(lexer.LBRACE, "{")
	r := &RecordLit{base: base{begin: begin}}
	p.skipNewlines()
	for !p.check(lexer.RBRACE) {
		keyTok, err := p.expectMessageName()
		if err != nil {
			return nil, err
		}
		name := keyTok.Text
		if keyTok.Type == lexer.MESSAGE {
			name = name[:len(name)-1] // strip trailing ':'
		}
		key := &Sigil{base: base{begin: keyTok, end: keyTok}, Name: name}
		r.Keys = append(r.Keys, key)

		val, err := p.parseBinarySend()
		if err != nil {
			return nil, err
		}
		r.Values = append(r.Values, val)

		if p.check(lexer.COMMA) {
			p.advance()
			p.skipNewlines()
			continue
		}
		p.skipNewlines()
		break
	}
	end, err := p.expect(lexer.RBRACE, "}")
	if err != nil {
		return nil, err
	}
	r.end = end
	return r, nil
}

func (p *Parser) parseListLit() (Node, *diag.Error) {
	begin, _ := p.expect(lexer.LBRACKET, "[")
	l := &ListLit{base: base{begin: begin}}
	p.skipNewlines()
	for !p.check(lexer.RBRACKET) {
		e, err := p.parseBinarySend()
		if err != nil {
			return nil, err
		}
		l.Elems = append(l.Elems, e)
		if p.check(lexer.COMMA) {
			p.advance()
			p.skipNewlines()
			continue
		}
		break
	}
	end, err := p.expect(lexer.RBRACKET, "]")
	if err != nil {
		return nil, err
	}
	l.end = end
	return l, nil
}
