// Package preflight provides readiness checks for the filesystem paths,
// binaries, and hub connection the agent depends on.
//
// These checks run in two contexts:
//   - daemonrun logs every result at startup so a misconfigured install is
//     visible in the first lines of the agent log.
//   - The CLI "tether config validate" command prints the same results.
//
// Checks never fail the agent on their own; callers decide what to do with a
// failed Result.
package preflight
