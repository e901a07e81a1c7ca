// Package auth guards the engine's HTTP command API with HS256 bearer tokens.
//
// A token's "sub" claim is the chat user ID the caller acts as. Tokens carrying
// the "operator" scope may act on behalf of any user and read the agent pool.
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.Secret))
//	r.Use(auth.HTTPAuthMiddleware(verifier))
//	r.With(auth.RequireOperatorHTTP()).Get("/api/agents", h.listAgents)
//
// Handlers read the caller with FromContext.
package auth
