// Package config holds the acquisition configuration snapshot.
//
// A Config is built from Default, then an optional YAML file, then a .env
// file and DIGITIZER_* environment variables (see Load). Finalize derives
// the read counts and records which of them the operator set explicitly;
// Refresh re-derives them after a hot reconfiguration without touching the
// explicit ones.
//
// Fields maps every reconfigurable key, as used on the command channel, to
// a typed setter. Keys not in Fields are unknown and rejected by lookup.
package config
