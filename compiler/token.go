package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the expression lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenNumber // 42, 3.5, 1e10

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPercent  // %
	TokenCaret    // ^
	TokenStarStar // **

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenSemicolon // ;

	// Reserved identifiers
	TokenTrue
	TokenFalse
	TokenNull
	TokenIdentifier
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNumber:     "NUMBER",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenCaret:      "^",
	TokenStarStar:   "**",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenSemicolon:  ";",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNull:       "null",
	TokenIdentifier: "IDENTIFIER",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"true":  TokenTrue,
	"false": TokenFalse,
	"null":  TokenNull,
}

// IsOperator returns true if t is a binary or unary operator token.
func (t TokenType) IsOperator() bool {
	switch t {
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent, TokenCaret, TokenStarStar:
		return true
	}
	return false
}
