// Package mirror keeps the local copy of a device's configuration and status.
//
// Each of the two value categories owns a flat path -> value map and a
// version counter. Every applied value bumps the counter of its category,
// so a changed version means some path in that category was written, not
// necessarily the one a caller cares about. Callers re-read their path after
// a wake-up.
//
// Observers register per category with the Dispatcher. Callbacks run
// synchronously in registration order while the category's dispatch lock is
// held; a failing or panicking callback is logged and does not stop the
// ones after it. A callback must not register new callbacks for the
// category it is running in.
package mirror
