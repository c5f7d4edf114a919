// Package main is the imgfirewall command.
//
// The binary runs the scanning API, the inference sandbox on its own, or a
// one-shot scan from the terminal:
//
//	# API server with an in-process sandbox
//	imgfirewall serve
//
//	# Sandbox only; point the API at it with SANDBOX_URL=ws://host:8001/sandbox
//	imgfirewall sandbox --warm
//
//	# Scan a page, a saved file or a directory of saved pages
//	imgfirewall scan https://example.com/
//	imgfirewall scan --html page.html > annotated.html
//	imgfirewall scan --dir ./saved
//
//	# Mirror a model into the local model directory
//	imgfirewall model fetch --base-url https://models.example.com/mobilenet/
//
// Configuration is read from the environment (12-factor); flags override
// it. SIGINT and SIGTERM shut down gracefully.
package main
