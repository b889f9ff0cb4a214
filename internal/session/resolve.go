package session

import "github.com/matheus3301/inbox/internal/config"

const DefaultSessionName = "main"

// Resolve picks the session name: the flag, then the config's
// default_session (INBOX_SESSION overrides it), then DefaultSessionName.
func Resolve(flagOverride string, cfg *config.Config) string {
	switch {
	case flagOverride != "":
		return flagOverride
	case cfg != nil && cfg.DefaultSession != "":
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
