// Package dedupe remembers recently seen keys for a bounded time.
//
// The bot keys the cache by Matrix event ID so an event redelivered by the
// homeserver (after a retried sync, for example) reaches handlers at most
// once. Entries expire after the TTL; when the cache is full the oldest
// entry is dropped first.
package dedupe
