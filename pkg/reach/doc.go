// Package reach decides which peers of the service network to report as good
// or unreachable to the registry authority, based on the outcomes of outbound
// probes on their two listening channels (HTTP and messaging), and derives the
// health of this node's own channels from incoming peer pings.
//
// The package performs no network I/O itself. A prober feeds probe outcomes
// into Tracker.RecordReachable, a reporter consults ShouldReportAs and
// CheckIncomingTests on its own schedule, and a retest scheduler uses
// NextToTest and Expire. All state is in-memory; nothing survives a restart.
package reach
