// Package router serves the calls the hub makes on the agent.
//
// Each method maps to one of five command kinds: notifications, plain
// request/response calls, calls relayed to a companion session, outbound
// streams, and inbound uploads. Unknown methods are logged and ignored.
// Every handler runs behind a recover boundary; failures are reported to
// the hub by public reason only and persisted to the failure store.
package router
