// Package sandbox is the isolated inference side of the image firewall.
//
// A Handler speaks the channel protocol: it announces itself with
// SANDBOX_READY, loads the model in the background, and answers each
// CLASSIFY with a VERDICT built from the top predictions and the policy
// snapshot carried in the request. A request that fails anywhere between
// decoding and policy evaluation gets no answer at all.
//
// Server runs Handlers behind a websocket endpoint so the sandbox can live
// in its own process.
package sandbox
