package sqlselect

import "strings"

// TokenType identifies a lexical token
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	// Literals and identifiers
	TOKEN_IDENT
	TOKEN_NUMBER
	TOKEN_STRING

	// Operators
	TOKEN_EQ     // =
	TOKEN_NE     // != or <>
	TOKEN_LT     // <
	TOKEN_LE     // <=
	TOKEN_GT     // >
	TOKEN_GE     // >=
	TOKEN_PLUS   // +
	TOKEN_MINUS  // -
	TOKEN_STAR   // *
	TOKEN_SLASH  // /
	TOKEN_MOD    // %
	TOKEN_CONCAT // ||

	// Delimiters
	TOKEN_COMMA
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_SEMICOLON

	// Keywords
	TOKEN_SELECT
	TOKEN_FROM
	TOKEN_WHERE
	TOKEN_AND
	TOKEN_OR
	TOKEN_NOT
	TOKEN_AS
	TOKEN_IS
	TOKEN_NULL
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_LIMIT
)

// Token is a lexical token with its literal text
type Token struct {
	Type    TokenType
	Literal string
}

var keywords = map[string]TokenType{
	"SELECT": TOKEN_SELECT,
	"FROM":   TOKEN_FROM,
	"WHERE":  TOKEN_WHERE,
	"AND":    TOKEN_AND,
	"OR":     TOKEN_OR,
	"NOT":    TOKEN_NOT,
	"AS":     TOKEN_AS,
	"IS":     TOKEN_IS,
	"NULL":   TOKEN_NULL,
	"TRUE":   TOKEN_TRUE,
	"FALSE":  TOKEN_FALSE,
	"LIMIT":  TOKEN_LIMIT,
}

// lookupIdent maps keywords case-insensitively, everything else is an
// identifier
func lookupIdent(ident string) TokenType {
	if tt, ok := keywords[strings.ToUpper(ident)]; ok {
		return tt
	}
	return TOKEN_IDENT
}
