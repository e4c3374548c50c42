// Package metrics registers the Prometheus collectors shared by the stream
// client, the mirror, the store synchronizer and the device simulator, and
// serves them over HTTP.
package metrics
