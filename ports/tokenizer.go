package ports

import "github.com/layer-3/txguard/core"

// Tokenizer converts between sessions and bearer tokens carried by HTTP clients
type Tokenizer interface {
	SessionToToken(session *core.SessionInfo) (string, error)
	TokenToSession(token string) (*core.SessionInfo, error)
}
