// Package notify evaluates notification conditions against pipeline
// execution events and dispatches matching configs to their channel
// senders. Conditions run in a restricted expression sandbox that sees
// a single binding named data and nothing else; a broken condition is
// logged and treated as not met so it can never stall or crash the
// consumer loop or block sibling configs.
package notify
