// ABOUTME: Package dedupe remembers recently handled chat events
// ABOUTME: Used by the engine to ignore commands the homeserver delivers twice

// Package dedupe provides a bounded, time-windowed set of event IDs. A sync
// reconnect can replay events the engine already acted on; the window makes a
// replayed "submit" or "cancel" a no-op.
package dedupe
