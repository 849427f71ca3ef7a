// Package retry provides the failure classification and exponential backoff
// engine used to execute installation phase actions.
//
// The [Engine.Attempt] function retries an action with configurable max
// attempts, base delay, and delay ceiling. Classification is supplied by the
// action through the Retryable() bool contract; unclassified errors are
// treated as fatal. Backoff computation is a pure function ([BackoffDelay])
// and the sleeper is injectable, so retry behavior is testable without real
// delays.
package retry
