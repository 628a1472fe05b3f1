// Package mcpwire implements a minimal Model Context Protocol (MCP) substrate:
// a JSON-RPC 2.0 message codec with newline-delimited framing, a server-side
// request router, a client-side call correlator, a capability registry for
// tools, resources and prompts, and the session handshake state machine that
// ties them together over a pluggable transport.
//
// Two transports are provided: StdIO for subprocess-style servers speaking
// over stdin/stdout, and SSEServer/SSEClient for HTTP servers streaming
// messages through Server-Sent Events.
package mcpwire
