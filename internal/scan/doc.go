// Package scan finds candidate images on a page and drives them through
// classification.
//
// A Coordinator owns one Page. It discovers elements matching its Selector
// on a ticker, after scrolls and after mutations, loads their pixels,
// decides with Assess whether they need the model and sends eligible ones
// to the sandbox over a protocol.Channel. Verdicts are matched back to
// elements through the PendingTable and applied as classes and attributes
// on the element.
//
// Every failure on the host side reveals the element: unreadable pixels,
// load errors, an undeliverable request and an overdue verdict all end in
// the Revealed state.
package scan
