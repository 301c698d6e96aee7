package commsutil

import "testing"

func TestBuildRPCCallSubject(t *testing.T) {
	tests := []struct {
		name   string
		action string
		want   string
	}{
		{"simple", "echo", "rpc.called.echo"},
		{"namespaced", "users.create", "rpc.called.users.create"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildRPCCallSubject(tt.action)
			if got != tt.want {
				t.Errorf("BuildRPCCallSubject(%q) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}
