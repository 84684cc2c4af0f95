// Package maintenance runs agent-altering commands, such as uninstall and update, while
// holding the cross-process mutation lock so they never overlap with another
// installer or updater on the same host.
package maintenance
