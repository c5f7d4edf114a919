// Package service runs one-shot scans for the CLI and the HTTP API.
//
// A Scanner binds a scan coordinator to a page, a sandbox connection and
// the settings service, waits until every image is decided and returns the
// annotated document with per-element outcomes.
//
// Sandbox connectors:
//   - LocalSandbox: handler in-process, behind an encoding pipe
//   - RemoteSandbox: websocket to `imgfirewall sandbox`
//
// Example Usage:
//
//	scanner, err := service.NewScanner(service.LocalSandbox{Handler: h}, settingsSvc, settingsSvc, cfg, logger, metrics)
//	res, err := scanner.ScanURL(ctx, "https://example.com/")
//	fmt.Println(res.Summary.Blocked)
package service
