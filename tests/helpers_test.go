package tests

import (
	"net/http/httptest"
	"testing"

	"github.com/whisprhq/reactorpc/pkg/rpc"
)

// newHTTPTestServer starts an httptest.Server for srv's handler and returns
// its base URL, registering cleanup.
func newHTTPTestServer(t *testing.T, srv *rpc.Server) string {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv.URL
}
