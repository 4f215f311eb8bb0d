// Package setup applies a configuration snapshot to a digitizer session.
package setup
