// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for running the server as a subprocess of a
// desktop MCP client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none; every request runs as one configured user
//	Sessions         : none
//	Transport        : newline-delimited JSON-RPC
//
// Requests are processed in the order they are read. Responses are written
// one per line; notifications produce no output.
//
// Example:
//
//	h := stdio.NewHandler(mcpHandler, stdio.WithUser(auth.UserContext{
//	    Credentials: auth.Credentials{APIKey: key, APISecret: secret},
//	}))
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// For multi-user deployments use the HTTP transport with OAuth.
package stdio
