package commsutil

import "fmt"

// SubjectRPCCalled is the global subject every RPC call event is published
// to, in addition to its per-action subject.
const SubjectRPCCalled = "rpc.called"

// BuildRPCCallSubject builds the per-action subject an RPC call event is
// also published to, alongside the global SubjectRPCCalled.
func BuildRPCCallSubject(action string) string {
	return fmt.Sprintf("rpc.called.%s", action)
}
