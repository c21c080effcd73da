// Package notify delivers outbound user notifications such as verification links,
// reset links and security warnings.
//
// The engine only ever calls [Dispatcher.Enqueue], which never blocks: a full queue
// drops the message and logs it. Worker goroutines hand messages to a [Sender],
// throttled by a token bucket and retried with exponential backoff, so delivery is
// at-least-once for transient failures. Senders mark permanent failures with
// [ErrPermanent] to stop retries.
package notify
