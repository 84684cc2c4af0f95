// Package failures persists structured failure reports for rejected
// companion connections and failed hub commands.
//
// Reports live in a small SQLite database under the state directory so the
// CLI can inspect them after the fact. They carry the local reason, which is
// never sent to the hub.
package failures
