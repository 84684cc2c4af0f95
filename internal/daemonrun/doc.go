// Package daemonrun builds the agent's components from configuration and
// runs them until the process is signalled.
package daemonrun
