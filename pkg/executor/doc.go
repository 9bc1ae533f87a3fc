// Package executor turns live operations into vppctl and vtysh commands and
// sends them over a Channel.
//
// Dataplane operations become one vppctl command per line on the core
// instance. Routing operations become a single vtysh script per operation
// so FRR sees each change as one configure session. Module entries render
// through the live templates of their module definition and go to the
// module's own dataplane instance.
//
// The dataplane CLI reports many failures with a zero exit status, so
// output from dataplane targets is also checked with DataplaneFailure.
package executor
