package store

import "fmt"

// Key naming conventions for the coordination store, shared by the
// strategy and keepalive packages so no caller hand-rolls a key format.

// LockKey is the per-(model, provider) lock used by first_available and
// first_available_optim (spec.md §4.3.4, §4.3.5).
func LockKey(model, providerID string) string {
	return fmt.Sprintf("lock:%s:%s", model, providerID)
}

// LastHostKey is "model:{m}:last_host" (spec.md §4.3.5 step 1).
func LastHostKey(model string) string {
	return fmt.Sprintf("model:%s:last_host", model)
}

// HostsSetKey is "model:{m}:hosts" (spec.md §4.3.5 step 2).
func HostsSetKey(model string) string {
	return fmt.Sprintf("model:%s:hosts", model)
}

// HostOccupancyKey is "host:{host}", a hash keyed by model name (spec.md
// §4.3.5's "increment host:{host} field m").
func HostOccupancyKey(host string) string {
	return fmt.Sprintf("host:%s", host)
}

// KeepAliveHashKey is "keepalive:provider:{model}:{host}", the hash holding
// a provider's keep_alive_seconds field (spec.md §3 KeepAliveSchedule).
func KeepAliveHashKey(model, host string) string {
	return fmt.Sprintf("keepalive:provider:%s:%s", model, host)
}

// KeepAliveWakeupKey is the sorted set of (model, host) pairs scored by
// UNIX timestamp of next ping (spec.md §3 KeepAliveSchedule).
func KeepAliveWakeupKey() string {
	return "keepalive:providers:next_wakeup"
}
