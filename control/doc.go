// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration files, runtime metrics and debug introspection for the
// RIPC transport.
//
// Provides:
//   - TOML configuration loading into validated transport options
//   - prometheus collectors updated by channels and servers
//   - named debug probes with state export
package control
