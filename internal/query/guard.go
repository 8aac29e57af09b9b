package query

import (
	"strings"
	"unicode"

	"github.com/datatalk/datatalk/internal/dataset"
)

var mutationKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {}, "create": {},
	"truncate": {}, "merge": {}, "grant": {}, "revoke": {}, "attach": {}, "detach": {},
	"copy": {}, "pragma": {}, "install": {}, "load": {}, "export": {}, "import": {},
	"vacuum": {}, "checkpoint": {}, "call": {},
}

// Words after which an opening parenthesis starts a subquery or a grouping
// rather than a function call.
var nonFunctionWords = map[string]struct{}{
	"from": {}, "join": {}, "in": {}, "exists": {}, "as": {}, "any": {}, "all": {},
	"some": {}, "not": {}, "and": {}, "or": {}, "on": {}, "where": {}, "select": {},
	"union": {}, "intersect": {}, "except": {}, "lateral": {}, "with": {}, "recursive": {},
	"values": {}, "having": {}, "when": {}, "then": {}, "else": {}, "by": {},
}

// Words that close a comma separated FROM list.
var fromListTerminators = map[string]struct{}{
	"where": {}, "group": {}, "order": {}, "having": {}, "limit": {}, "offset": {},
	"union": {}, "intersect": {}, "except": {}, "window": {}, "qualify": {}, "on": {},
	"using": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "cross": {},
	"natural": {}, "positional": {}, "asof": {}, "anti": {}, "semi": {},
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenPunct
)

type token struct {
	kind  tokenKind
	text  string
	lower string
}

// CheckReadOnly validates a model-authored query and returns it with
// trailing semicolons removed. The query must be a single SELECT or WITH
// statement that only reads the dataset table or its own CTEs, and it must
// not contain a mutation keyword anywhere, string literals included.
// Quoted identifiers naming a dataset column are exempt from the keyword
// scan.
func CheckReadOnly(sqlText string, schema dataset.Schema) (string, error) {
	cleaned := stripTrailingSemicolons(sqlText)
	if cleaned == "" {
		return "", &QueryError{Query: sqlText, Reason: "query is empty"}
	}
	tokens, err := tokenize(cleaned)
	if err != nil {
		return "", &QueryError{Query: sqlText, Reason: err.Error()}
	}

	columns := make(map[string]struct{}, len(schema.Columns))
	for _, name := range schema.Names() {
		columns[name] = struct{}{}
	}
	for _, tok := range tokens {
		switch tok.kind {
		case tokenPunct:
			if tok.text == ";" {
				return "", &QueryError{Query: sqlText, Reason: "only a single statement is allowed"}
			}
		case tokenWord:
			if _, bad := mutationKeywords[tok.lower]; bad {
				return "", &QueryError{Query: sqlText, Reason: "mutation keyword " + strings.ToUpper(tok.lower) + " is not allowed"}
			}
		case tokenString, tokenQuotedIdent:
			if tok.kind == tokenQuotedIdent {
				if _, ok := columns[tok.text]; ok {
					continue
				}
			}
			if word := containsMutationWord(tok.text); word != "" {
				return "", &QueryError{Query: sqlText, Reason: "mutation keyword " + strings.ToUpper(word) + " is not allowed"}
			}
		}
	}

	first := firstWord(tokens)
	if first != "select" && first != "with" {
		return "", &QueryError{Query: sqlText, Reason: "only SELECT queries are allowed"}
	}
	if err := checkRelations(tokens); err != "" {
		return "", &QueryError{Query: sqlText, Reason: err}
	}
	return cleaned, nil
}

func firstWord(tokens []token) string {
	for _, tok := range tokens {
		if tok.kind == tokenPunct && tok.text == "(" {
			continue
		}
		if tok.kind == tokenWord {
			return tok.lower
		}
		return ""
	}
	return ""
}

// checkRelations verifies every relation read by the query is the dataset
// table or a CTE declared in the same query.
func checkRelations(tokens []token) string {
	ctes := map[string]struct{}{}
	for i := 0; i+2 < len(tokens); i++ {
		if isIdent(tokens[i]) && tokens[i+1].kind == tokenWord && tokens[i+1].lower == "as" && isPunct(tokens[i+2], "(") {
			ctes[identName(tokens[i])] = struct{}{}
		}
	}

	type frame struct {
		function bool
		fromList bool
	}
	stack := []frame{{}}
	expectRelation := false

	for i, tok := range tokens {
		top := &stack[len(stack)-1]
		if expectRelation {
			expectRelation = false
			switch {
			case isPunct(tok, "("):
				top.fromList = true
			case isIdent(tok):
				if i+1 < len(tokens) && (isPunct(tokens[i+1], "(") || isPunct(tokens[i+1], ".")) {
					return "relation " + tok.text + " is not allowed"
				}
				name := identName(tok)
				if _, ok := ctes[name]; !ok && name != dataset.TableName {
					return "relation " + tok.text + " is not allowed, query the table " + dataset.TableName
				}
				top.fromList = true
				continue
			default:
				return "expected a relation after FROM or JOIN"
			}
		}

		switch {
		case isPunct(tok, "("):
			function := false
			if i > 0 && isIdent(tokens[i-1]) && !opensSubquery(tokens, i) {
				if tokens[i-1].kind == tokenQuotedIdent {
					function = true
				} else if _, ok := nonFunctionWords[tokens[i-1].lower]; !ok {
					function = true
				}
			}
			stack = append(stack, frame{function: function})
		case isPunct(tok, ")"):
			if len(stack) == 1 {
				return "unbalanced parentheses"
			}
			stack = stack[:len(stack)-1]
		case isPunct(tok, ","):
			if top.fromList {
				expectRelation = true
			}
		case tok.kind == tokenWord:
			if _, ok := fromListTerminators[tok.lower]; ok {
				top.fromList = false
			}
			switch tok.lower {
			case "from":
				if top.function || isDistinctFrom(tokens, i) {
					continue
				}
				expectRelation = true
			case "join":
				expectRelation = true
			}
		}
	}
	if expectRelation {
		return "expected a relation after FROM or JOIN"
	}
	if len(stack) != 1 {
		return "unbalanced parentheses"
	}
	return ""
}

// opensSubquery reports whether the parenthesis at i starts a SELECT or
// WITH, possibly behind further parentheses. Such a frame is checked like any
// other query even when it is a function argument.
func opensSubquery(tokens []token, i int) bool {
	for j := i + 1; j < len(tokens); j++ {
		if isPunct(tokens[j], "(") {
			continue
		}
		return tokens[j].kind == tokenWord && (tokens[j].lower == "select" || tokens[j].lower == "with")
	}
	return false
}

func isDistinctFrom(tokens []token, i int) bool {
	if i < 2 || tokens[i-1].lower != "distinct" {
		return false
	}
	prev := tokens[i-2].lower
	return prev == "is" || prev == "not"
}

func isIdent(tok token) bool {
	return tok.kind == tokenWord || tok.kind == tokenQuotedIdent
}

func identName(tok token) string {
	if tok.kind == tokenQuotedIdent {
		return tok.text
	}
	return tok.lower
}

func isPunct(tok token, text string) bool {
	return tok.kind == tokenPunct && tok.text == text
}

func containsMutationWord(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	for _, word := range words {
		if _, bad := mutationKeywords[word]; bad {
			return word
		}
	}
	return ""
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type tokenizeError string

func (e tokenizeError) Error() string { return string(e) }

func tokenize(sqlText string) ([]token, error) {
	runes := []rune(sqlText)
	tokens := make([]token, 0, len(runes)/4)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := strings.Index(string(runes[i+2:]), "*/")
			if end < 0 {
				return nil, tokenizeError("unterminated comment")
			}
			i += 2 + len([]rune(string(runes[i+2:])[:end])) + 2
		case r == '\'' || r == '"':
			text, next, ok := readQuoted(runes, i, r)
			if !ok {
				return nil, tokenizeError("unterminated quoted text")
			}
			kind := tokenString
			if r == '"' {
				kind = tokenQuotedIdent
			}
			tokens = append(tokens, token{kind: kind, text: text, lower: strings.ToLower(text)})
			i = next
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			tokens = append(tokens, token{kind: tokenWord, text: text, lower: strings.ToLower(text)})
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r), lower: string(r)})
			i++
		}
	}
	return tokens, nil
}

// readQuoted reads a quoted run starting at runes[start], honoring doubled
// quote characters as escapes.
func readQuoted(runes []rune, start int, quote rune) (string, int, bool) {
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			b.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			b.WriteRune(quote)
			i++
			continue
		}
		return b.String(), i + 1, true
	}
	return "", 0, false
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
