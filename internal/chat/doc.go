// Package chat defines the contract the engine consumes from the chat
// platform and the decorators layered on top of it.
//
// A Session is one account's view of the platform: it sends messages (optionally
// replying to an earlier one), reads recent history and looks messages up by id.
// Failures surface as the sentinel errors in this package so callers can map
// them onto agent state without knowing the platform.
//
// Each agent session is assembled as
//
//	chat.NewCachedSession(chat.NewGuard(platformSession, cfg, logger), ttl, maxChats)
//
// so cached reads never consume send budget and a tripped breaker fails fast.
package chat
