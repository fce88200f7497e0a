package graph

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// getNodeTimeout determines the timeout duration for a node: a
// per-node NodePolicy.Timeout overrides the engine-wide
// DefaultNodeTimeout; 0 means unlimited.
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout runs node once per timeout/retry precedence:
// NodePolicy.Timeout (falling back to defaultTimeout) bounds each
// attempt, and NodePolicy.RetryPolicy, if set, re-runs the node on a
// retryable NodeResult.Err with exponential backoff. A node with no
// RetryPolicy runs exactly once, same as before retries existed.
func executeNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	timeout := getNodeTimeout(policy, defaultTimeout)

	var retry *RetryPolicy
	if policy != nil {
		retry = policy.RetryPolicy
	}
	maxAttempts := 1
	if retry != nil && retry.MaxAttempts > 1 {
		maxAttempts = retry.MaxAttempts
	}

	var rng *rand.Rand
	if retry != nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var result NodeResult[S]
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var timeoutErr error
		result, timeoutErr = runOnce(ctx, node, nodeID, state, timeout)
		if timeoutErr != nil {
			return result, timeoutErr
		}

		if result.Err == nil || retry == nil || retry.Retryable == nil || !retry.Retryable(result.Err) {
			return result, nil
		}
		if attempt == maxAttempts-1 {
			return result, nil
		}

		delay := computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay, rng)
		select {
		case <-ctx.Done():
			return result, nil
		case <-time.After(delay):
		}
	}

	return result, nil
}

func runOnce[S any](ctx context.Context, node Node[S], nodeID string, state S, timeout time.Duration) (NodeResult[S], error) {
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}
