// Package audit appends a JSON-lines record of every action that changes
// the instrument: the initial configuration, reconfigurations from
// commands, self-calibrations and faults, along with the commands
// submitted over the HTTP API.
package audit
