// Command tether is the operator CLI for the tether agent.
//
// It runs the agent in the foreground (`tether daemon`) or detached
// (`tether start`), queries a running agent over its control socket
// (status, sessions, terminals, failures), tails the agent log, probes the
// installation mutation lock, and manages binary signing keys.
package main
