package ruleset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// exprSource is a CEL expression together with the position of its first
// character in the rule source.
type exprSource struct {
	text   string
	line   int
	column int
}

type actionDecl struct {
	field string
	halt  bool
	expr  exprSource
}

type ruleDecl struct {
	name       string
	line       int
	column     int
	salience   int
	enabled    bool
	group      string
	conditions []exprSource
	actions    []actionDecl
}

// logicalLine accumulates an expression spanning several physical lines.
// The first line is stored trimmed; continuation lines keep their
// indentation so CEL columns map back onto the source.
type logicalLine struct {
	text   string
	line   int
	column int
}

func (l *logicalLine) add(raw string) {
	l.text += "\n" + strings.TrimRight(raw, " \t")
}

// open reports whether the expression obviously continues on the next line.
func (l *logicalLine) open() bool {
	if bracketDepth(l.text) > 0 {
		return true
	}
	t := strings.TrimSpace(l.text)
	for _, op := range []string{"&&", "||", ",", "+", "-", "*", "/", "?", ":"} {
		if strings.HasSuffix(t, op) {
			return true
		}
	}
	return false
}

type block int

const (
	inHeader block = iota
	inWhen
	inThen
)

type parser struct {
	source string
	lines  []string
	pos    int
	diags  Diagnostics
}

// parse splits one source into rule declarations. It never fails: every
// problem is reported as a diagnostic and parsing resumes at the next line.
func parse(src Source) ([]*ruleDecl, Diagnostics) {
	text := strings.ReplaceAll(src.Text, "\r\n", "\n")
	p := &parser{source: src.Name, lines: strings.Split(text, "\n")}

	var decls []*ruleDecl
	for {
		raw, line, ok := p.next()
		if !ok {
			break
		}
		trimmed, col := trimLine(raw)
		if trimmed == "" {
			continue
		}

		word, rest := splitWord(trimmed)
		switch word {
		case "package", "import":
			// accepted for compatibility with DRL files, no meaning here
		case "rule":
			restCol := col + len(trimmed) - len(rest)
			if decl := p.parseRule(rest, line, restCol); decl != nil {
				decls = append(decls, decl)
			}
		default:
			p.errorf("", line, col, "unexpected %q outside of a rule", word)
		}
	}
	return decls, p.diags
}

func (p *parser) next() (string, int, bool) {
	if p.pos >= len(p.lines) {
		return "", 0, false
	}
	raw := stripComment(p.lines[p.pos])
	p.pos++
	return raw, p.pos, true
}

func (p *parser) errorf(rule string, line, col int, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{
		Source:  p.source,
		Rule:    rule,
		Line:    line,
		Column:  col,
		Message: fmt.Sprintf(format, args...),
	})
}

func (p *parser) parseRule(header string, line, col int) *ruleDecl {
	before := len(p.diags)

	name, err := parseName(header)
	if err != nil {
		p.errorf("", line, col, "%v", err)
	}
	decl := &ruleDecl{name: name, line: line, column: col, enabled: true}

	state := inHeader
	seenThen := false
	var cond, stmt *logicalLine

	for {
		raw, n, ok := p.next()
		if !ok {
			p.errorf(decl.name, line, col, "missing end")
			return nil
		}
		trimmed, c := trimLine(raw)
		if trimmed == "" {
			continue
		}
		word, rest := splitWord(trimmed)
		restCol := c + len(trimmed) - len(rest)

		if word == "rule" {
			p.errorf(decl.name, line, col, "missing end before rule declared on line %d", n)
			p.pos--
			return nil
		}

		if word == "end" && rest == "" {
			p.flushCondition(decl, cond)
			p.flushStatements(decl, stmt)
			if !seenThen {
				p.errorf(decl.name, n, c, "missing then")
			}
			if len(p.diags) > before {
				return nil
			}
			return decl
		}

		switch state {
		case inHeader:
			switch word {
			case "when":
				state = inWhen
				if rest != "" {
					cond = p.condition(decl, cond, rest, n, restCol, raw)
				}
			case "then":
				state, seenThen = inThen, true
				if rest != "" {
					stmt = p.statement(decl, stmt, rest, n, restCol, raw)
				}
			default:
				p.attribute(decl, word, rest, n, c)
			}

		case inWhen:
			if word == "then" && (cond == nil || !cond.open()) {
				p.flushCondition(decl, cond)
				cond = nil
				state, seenThen = inThen, true
				if rest != "" {
					stmt = p.statement(decl, stmt, rest, n, restCol, raw)
				}
				continue
			}
			cond = p.condition(decl, cond, trimmed, n, c, raw)

		case inThen:
			stmt = p.statement(decl, stmt, trimmed, n, c, raw)
		}
	}
}

func (p *parser) attribute(decl *ruleDecl, word, rest string, line, col int) {
	switch word {
	case "salience":
		v, err := strconv.Atoi(rest)
		if err != nil {
			p.errorf(decl.name, line, col, "salience must be an integer, got %q", rest)
			return
		}
		decl.salience = v
	case "enabled":
		v, err := strconv.ParseBool(rest)
		if err != nil {
			p.errorf(decl.name, line, col, "enabled must be true or false, got %q", rest)
			return
		}
		decl.enabled = v
	case "activation-group":
		group, err := parseName(rest)
		if err != nil {
			p.errorf(decl.name, line, col, "activation-group: %v", err)
			return
		}
		decl.group = group
	case "no-loop", "lock-on-active":
		if rest != "" {
			if _, err := strconv.ParseBool(rest); err != nil {
				p.errorf(decl.name, line, col, "%s must be true or false, got %q", word, rest)
			}
		}
	default:
		p.errorf(decl.name, line, col, "unknown attribute %q (expected salience, enabled, activation-group, no-loop or when)", word)
	}
}

// condition adds a physical line of the when block. Lines join the
// previous condition while it is open or when they start with && or ||.
func (p *parser) condition(decl *ruleDecl, cur *logicalLine, text string, line, col int, raw string) *logicalLine {
	if cur != nil && (cur.open() || strings.HasPrefix(text, "&&") || strings.HasPrefix(text, "||")) {
		cur.add(raw)
		return cur
	}
	p.flushCondition(decl, cur)
	return &logicalLine{text: text, line: line, column: col}
}

func (p *parser) flushCondition(decl *ruleDecl, cur *logicalLine) {
	if cur == nil {
		return
	}
	decl.conditions = append(decl.conditions, exprSource{text: cur.text, line: cur.line, column: cur.column})
}

// statement adds a physical line of the then block. A statement is
// complete as soon as its brackets balance.
func (p *parser) statement(decl *ruleDecl, cur *logicalLine, text string, line, col int, raw string) *logicalLine {
	if cur != nil {
		cur.add(raw)
	} else {
		cur = &logicalLine{text: text, line: line, column: col}
	}
	if cur.open() {
		return cur
	}
	p.flushStatements(decl, cur)
	return nil
}

func (p *parser) flushStatements(decl *ruleDecl, cur *logicalLine) {
	if cur == nil {
		return
	}
	for _, part := range splitStatements(cur.text) {
		text := strings.TrimSpace(part.text)
		if text == "" {
			continue
		}
		lead := len(part.text) - len(strings.TrimLeft(part.text, " \t\n"))
		line, col := position(cur.text, cur.line, cur.column, part.offset+lead)
		p.action(decl, text, line, col)
	}
}

func (p *parser) action(decl *ruleDecl, text string, line, col int) {
	if text == "halt" {
		decl.actions = append(decl.actions, actionDecl{halt: true, expr: exprSource{text: text, line: line, column: col}})
		return
	}

	body := text
	if word, rest := splitWord(text); word == "set" && rest != "" {
		body = rest
		col += len(text) - len(rest)
	}

	i := assignIndex(body)
	if i < 0 {
		p.errorf(decl.name, line, col, "expected 'field = expression' or 'halt', got %q", text)
		return
	}

	field := strings.TrimSpace(body[:i])
	if !identifier.MatchString(field) {
		p.errorf(decl.name, line, col, "invalid assignment target %q", field)
		return
	}

	rhs := body[i+1:]
	expr := strings.TrimSpace(rhs)
	if expr == "" {
		p.errorf(decl.name, line, col, "missing expression for %q", field)
		return
	}
	lead := len(rhs) - len(strings.TrimLeft(rhs, " \t\n"))
	eLine, eCol := position(body, line, col, i+1+lead)

	decl.actions = append(decl.actions, actionDecl{
		field: field,
		expr:  exprSource{text: expr, line: eLine, column: eCol},
	})
}

func parseName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("rule name is required")
	}

	if q := s[0]; q == '"' || q == '\'' {
		end := strings.IndexByte(s[1:], q)
		if end < 0 {
			return "", fmt.Errorf("unterminated name %s", s)
		}
		name := s[1 : end+1]
		if rest := strings.TrimSpace(s[end+2:]); rest != "" {
			return "", fmt.Errorf("unexpected %q after name", rest)
		}
		if strings.TrimSpace(name) == "" {
			return "", fmt.Errorf("name cannot be blank")
		}
		return name, nil
	}

	if strings.ContainsAny(s, " \t") {
		return "", fmt.Errorf("names containing spaces must be quoted: %s", s)
	}
	return s, nil
}

// walk calls fn for every byte of s outside string literals with the
// bracket depth in effect before that byte. It returns the final depth.
func walk(s string, fn func(i, depth int) bool) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if fn != nil && !fn(i, depth) {
			return depth
		}
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

func bracketDepth(s string) int {
	return walk(s, nil)
}

func stripComment(raw string) string {
	cut := -1
	walk(raw, func(i, _ int) bool {
		if raw[i] == '#' || (raw[i] == '/' && i+1 < len(raw) && raw[i+1] == '/') {
			cut = i
			return false
		}
		return true
	})
	if cut >= 0 {
		return raw[:cut]
	}
	return raw
}

// assignIndex finds the '=' of an assignment, skipping ==, !=, <= and >=.
func assignIndex(s string) int {
	idx := -1
	walk(s, func(i, depth int) bool {
		if depth != 0 || s[i] != '=' {
			return true
		}
		if i > 0 && strings.IndexByte("=!<>", s[i-1]) >= 0 {
			return true
		}
		if i+1 < len(s) && s[i+1] == '=' {
			return true
		}
		idx = i
		return false
	})
	return idx
}

type statementPart struct {
	text   string
	offset int
}

func splitStatements(s string) []statementPart {
	var parts []statementPart
	start := 0
	walk(s, func(i, depth int) bool {
		if depth == 0 && s[i] == ';' {
			parts = append(parts, statementPart{text: s[start:i], offset: start})
			start = i + 1
		}
		return true
	})
	return append(parts, statementPart{text: s[start:], offset: start})
}

// position converts a byte offset in a logical line into a source
// line and 1-based column.
func position(buf string, line, col, offset int) (int, int) {
	before := buf[:offset]
	nl := strings.Count(before, "\n")
	if nl == 0 {
		return line, col + offset
	}
	return line + nl, offset - strings.LastIndex(before, "\n")
}

func trimLine(raw string) (string, int) {
	indent := len(raw) - len(strings.TrimLeft(raw, " \t"))
	return strings.TrimSpace(raw), indent + 1
}

func splitWord(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}
