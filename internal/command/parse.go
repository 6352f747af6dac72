package command

import "strings"

// Parse decodes the wire form name(key="value",...). Values must be double
// quoted; a backslash escapes the next byte.
func Parse(text string, sender, recipient string) (Command, error) {
	p := parser{text: text}

	p.skipSpace()
	name := p.ident()
	if name == "" {
		return Command{}, p.fail("expected command name")
	}
	p.skipSpace()
	if !p.consume('(') {
		return Command{}, p.fail("expected '('")
	}

	args := map[string]string{}
	p.skipSpace()
	if !p.consume(')') {
		for {
			if err := p.arg(args); err != nil {
				return Command{}, err
			}
			p.skipSpace()
			if p.consume(')') {
				break
			}
			if !p.consume(',') {
				return Command{}, p.fail("expected ',' or ')'")
			}
			p.skipSpace()
		}
	}

	p.skipSpace()
	if !p.eof() {
		return Command{}, p.fail("unexpected trailing input")
	}

	return Command{
		Name:      name,
		Kind:      KindOf(name),
		Args:      args,
		Sender:    sender,
		Recipient: recipient,
	}, nil
}

type parser struct {
	text string
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.text) }

func (p *parser) fail(reason string) *ProtocolError {
	return &ProtocolError{Text: p.text, Offset: p.pos, Reason: reason}
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.text[p.pos] == ' ' || p.text[p.pos] == '\t' || p.text[p.pos] == '\n' || p.text[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) consume(c byte) bool {
	if !p.eof() && p.text[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && isIdentByte(p.text[p.pos]) {
		p.pos++
	}
	return p.text[start:p.pos]
}

func (p *parser) arg(args map[string]string) error {
	key := p.ident()
	if key == "" {
		return p.fail("expected argument key")
	}
	if _, dup := args[key]; dup {
		return p.fail("duplicate argument " + key)
	}
	p.skipSpace()
	if !p.consume('=') {
		return p.fail("expected '='")
	}
	p.skipSpace()
	val, err := p.quoted()
	if err != nil {
		return err
	}
	args[key] = val
	return nil
}

func (p *parser) quoted() (string, error) {
	if !p.consume('"') {
		return "", p.fail("expected '\"'")
	}
	var b strings.Builder
	for !p.eof() {
		c := p.text[p.pos]
		p.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if p.eof() {
				return "", p.fail("dangling escape")
			}
			b.WriteByte(p.text[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
		}
	}
	return "", p.fail("unterminated string")
}
