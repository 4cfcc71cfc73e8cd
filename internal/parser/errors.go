package parser

import (
	"fmt"

	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/lexer"
)

func tokenRef(t lexer.Token) diag.TokenRef {
	return diag.TokenRef{
		Kind:      t.Type.String(),
		Row:       t.Pos.Line,
		ColBegin:  t.Pos.Column,
		ColEnd:    t.EndPos.Column,
		ByteBegin: t.Pos.Offset,
		ByteEnd:   t.EndPos.Offset,
	}
}

func (p *Parser) errorf(kind diag.Kind, t lexer.Token, format string, args ...any) *diag.Error {
	return diag.New(kind, p.name, tokenRef(t), fmt.Sprintf(format, args...))
}

func (p *Parser) unexpected(t lexer.Token, want string) *diag.Error {
	if t.Type == lexer.EOF {
		return p.errorf(diag.KindUnexpectedEOF, t, "unexpected end of input, expected %s", want)
	}
	return p.errorf(diag.KindUnexpectedToken, t, "unexpected token %q, expected %s", t.Text, want)
}
