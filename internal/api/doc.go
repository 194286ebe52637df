// ABOUTME: Package documentation for the REST API client
// ABOUTME: Describes rate limit integration and the retry-once contract

// Package api is the REST client for the chat platform's HTTP API.
//
// Every outbound call acquires a token from the rate limiter first, once for
// the endpoint's own bucket (keyed "METHOD /route-template", so path
// parameters share a bucket) and once for the global bucket. Server quota
// headers are folded back into the limiter after each response, and a 429
// drains the bucket for the server-provided delay. A rate limited request is
// retried exactly once, and the retry acquires a fresh token like any other
// call; a second rejection surfaces ErrRateLimited to the caller.
package api
