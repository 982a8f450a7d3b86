// Package target defines the client contract for the system under test,
// along with the registry that resolves named target implementations. The
// harness core is agnostic to what sits behind a Client: an in-process
// simulated control unit, a remote HTTP target, or anything else that can
// answer the five-operation contract.
package target
