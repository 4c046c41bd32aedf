// Package capability hosts the built-in capability services.
//
// Each service is a small MCP server exposing one or two operations over
// stdio. The coordinator launches services as subprocesses via
// internal/toolclient; cmd/roamfit-capability selects which service a process
// runs. Service implementations live in sub-packages (equipment, history,
// planner, analytics, location) and register their operations on an SDK
// server via [Registrar].
package capability

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Registrar is implemented by every capability service. Register attaches the
// service's operations to the given MCP server.
type Registrar interface {
	Register(server *mcpsdk.Server)
}

// Serve runs the capability service on stdio until ctx is cancelled or the
// peer disconnects. It blocks for the lifetime of the connection.
func Serve(ctx context.Context, name, version string, svc Registrar) error {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil)
	svc.Register(server)

	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("capability: serve %q: %w", name, err)
	}
	return nil
}
