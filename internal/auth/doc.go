// Package auth decides whether a local connection comes from the trusted
// companion binary.
//
// Checks run in order and stop at the first failure: peer credential
// resolution, a per-path failure rate limit, install path validation, and
// signer verification. Rejections are logged at critical severity and
// persisted as failure reports; the peer only ever sees a closed socket.
package auth
