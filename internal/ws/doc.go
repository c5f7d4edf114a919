// Package ws streams page scans over WebSocket.
//
// A client opens one connection and asks for scans one at a time. Every
// image is reported as soon as it is blocked or revealed, so a viewer can
// unblur safe images before the whole page has settled.
//
// Message Types (Client → Server):
//   - scan: Scan a page given by url, or inline html with an optional baseUrl
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: Connection established
//   - scan_start: Page loaded, scanning started
//   - element: One image decided
//   - complete: Scan finished, carries the result
//   - pong: Reply to ping
//   - error: Error occurred
//
// Example Usage:
//
//	handler := ws.NewHandler(scanner, logger)
//	router.GET("/api/scan/stream", handler.HandleConnection)
package ws
