// Package command carries reconfiguration requests to the acquisition loop.
//
// Requests are JSON objects mapping configuration keys to values, one per
// line. A Reader parses them from a stream (normally stdin), an MQTTSource
// from a broker topic, and the HTTP API from request bodies; all push onto
// one unbounded Queue. The acquisition loop drains the queue between
// iterations and folds the batch into its configuration with Update.
package command
