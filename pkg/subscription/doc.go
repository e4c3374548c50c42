// Package subscription tracks on-demand reads of individual paths.
//
// The first read of a path registers an implicit subscription and reports
// that no value is available yet. From then on every update the mirror
// applies to that path is recorded on the subscription, so later reads
// return the last value seen since the subscription was created.
//
// Subscriptions live as long as the mirror that owns them. ClearAll drops
// them, after which the next read of a path starts over.
package subscription
