package pdf

import (
	"fmt"
	"strconv"
)

// lexer is a cursor over raw PDF bytes. It parses direct objects; indirect
// object resolution happens at the Document level.
type lexer struct {
	data []byte
	pos  int
}

func isWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0a, 0x0c, 0x0d, 0x20:
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) atEnd() bool { return l.pos >= len(l.data) }

func (l *lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.data[l.pos]
}

// skipSpace advances past whitespace and comments.
func (l *lexer) skipSpace() {
	for !l.atEnd() {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for !l.atEnd() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// readBareToken reads a run of regular characters (keyword, number, etc).
func (l *lexer) readBareToken() string {
	start := l.pos
	for !l.atEnd() {
		c := l.data[l.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// expectKeyword consumes the given keyword or fails.
func (l *lexer) expectKeyword(kw string) error {
	l.skipSpace()
	save := l.pos
	if tok := l.readBareToken(); tok != kw {
		l.pos = save
		return fmt.Errorf("%w: expected %q at offset %d", ErrMalformed, kw, save)
	}
	return nil
}

// parseObject parses a single direct object at the cursor.
func (l *lexer) parseObject() (Object, error) {
	l.skipSpace()
	if l.atEnd() {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}

	switch c := l.data[l.pos]; {
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			return l.parseDict()
		}
		return l.parseHexString()
	case c == '(':
		return l.parseLiteralString()
	case c == '/':
		return l.parseName()
	case c == '[':
		return l.parseArray()
	case c >= '0' && c <= '9', c == '+', c == '-', c == '.':
		return l.parseNumberOrRef()
	default:
		switch tok := l.readBareToken(); tok {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unexpected token %q at offset %d", ErrMalformed, tok, l.pos)
		}
	}
}

func (l *lexer) parseName() (Name, error) {
	l.pos++ // consume '/'
	var out []byte
	for !l.atEnd() {
		c := l.data[l.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos+1:l.pos+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				l.pos += 3
				continue
			}
		}
		out = append(out, c)
		l.pos++
	}
	return Name(out), nil
}

func (l *lexer) parseNumberOrRef() (Object, error) {
	tok := l.readBareToken()
	if tok == "" {
		return nil, fmt.Errorf("%w: empty numeric token", ErrMalformed)
	}

	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		// An unsigned integer may begin an indirect reference: "N G R".
		if i >= 0 && tok[0] != '+' {
			save := l.pos
			l.skipSpace()
			genStart := l.pos
			genTok := l.readBareToken()
			if gen, err := strconv.ParseInt(genTok, 10, 32); err == nil && gen >= 0 && genStart != l.pos {
				l.skipSpace()
				rStart := l.pos
				if rTok := l.readBareToken(); rTok == "R" {
					return Ref{Num: int(i), Gen: int(gen)}, nil
				}
				_ = rStart
			}
			l.pos = save
		}
		return i, nil
	}

	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number %q", ErrMalformed, tok)
	}
	return f, nil
}

func (l *lexer) parseLiteralString() (String, error) {
	l.pos++ // consume '('
	var out []byte
	depth := 1
	for !l.atEnd() {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.atEnd() {
				return nil, fmt.Errorf("%w: unterminated string escape", ErrMalformed)
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\r':
				// Line continuation; swallow an optional LF.
				if !l.atEnd() && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
				// Line continuation.
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && !l.atEnd(); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return String(out), nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return nil, fmt.Errorf("%w: unterminated literal string", ErrMalformed)
}

func (l *lexer) parseHexString() (HexString, error) {
	l.pos++ // consume '<'
	var digits []byte
	for !l.atEnd() {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				v, err := strconv.ParseUint(string(digits[i*2:i*2+2]), 16, 8)
				if err != nil {
					return nil, fmt.Errorf("%w: invalid hex string", ErrMalformed)
				}
				out[i] = byte(v)
			}
			return HexString(out), nil
		}
		if isWhitespace(c) {
			continue
		}
		digits = append(digits, c)
	}
	return nil, fmt.Errorf("%w: unterminated hex string", ErrMalformed)
}

func (l *lexer) parseArray() (Array, error) {
	l.pos++ // consume '['
	out := Array{}
	for {
		l.skipSpace()
		if l.atEnd() {
			return nil, fmt.Errorf("%w: unterminated array", ErrMalformed)
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return out, nil
		}
		obj, err := l.parseObject()
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
}

func (l *lexer) parseDict() (Dict, error) {
	l.pos += 2 // consume '<<'
	out := Dict{}
	for {
		l.skipSpace()
		if l.atEnd() {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrMalformed)
		}
		if l.data[l.pos] == '>' {
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
				l.pos += 2
				return out, nil
			}
			return nil, fmt.Errorf("%w: stray '>' in dictionary", ErrMalformed)
		}
		if l.data[l.pos] != '/' {
			return nil, fmt.Errorf("%w: dictionary key is not a name at offset %d", ErrMalformed, l.pos)
		}
		key, err := l.parseName()
		if err != nil {
			return nil, err
		}
		val, err := l.parseObject()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
}

// skipStreamKeyword consumes the "stream" keyword and its EOL marker,
// returning true when the cursor sits on stream data.
func (l *lexer) skipStreamKeyword() bool {
	save := l.pos
	l.skipSpace()
	if tok := l.readBareToken(); tok != "stream" {
		l.pos = save
		return false
	}
	if !l.atEnd() && l.data[l.pos] == '\r' {
		l.pos++
	}
	if !l.atEnd() && l.data[l.pos] == '\n' {
		l.pos++
	}
	return true
}
