// Package correlator turns the device's topic pair into blocking request/response calls.
//
// CmControl responses carry no correlation id: a response on ".../get/X" answers
// whatever was last published on ".../set/X". The correlator therefore keeps one
// FIFO queue per endpoint and lets only its head be in flight. A second request
// to a busy endpoint waits (inside its own timeout) until the first resolves.
//
// Every pending request ends exactly once, with a response, a timeout, a
// transport failure or a cancelled context, and leaves nothing behind.
//
// Usage:
//
//	c := correlator.New(adapter, 10*time.Second)
//	dispatcher := dispatcher.New(adapter, c)
//	resp, err := c.Request(ctx, "rest/oauth2/login", payload, 0)
package correlator
