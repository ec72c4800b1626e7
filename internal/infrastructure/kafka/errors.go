package kafka

import (
	"context"
	"errors"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// isAuthError returns true for errors that indicate SASL authentication or
// authorization failures. These are permanent — retrying will not help.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.SaslAuthenticationFailed,
			kerr.UnsupportedSaslMechanism,
			kerr.IllegalSaslState,
			kerr.TopicAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.GroupAuthorizationFailed:
			return true
		}
	}

	var eof *kgo.ErrFirstReadEOF
	return errors.As(err, &eof)
}

// isUnknownTopic returns true when the broker does not know the topic or
// partition.
func isUnknownTopic(err error) bool {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke == kerr.UnknownTopicOrPartition || ke == kerr.UnknownTopicID
	}
	return false
}

// IsRetryable returns true for transient broker errors where a retry might
// succeed: timeouts, broker restarts, temporary leader unavailability.
func IsRetryable(err error) bool {
	if err == nil || isAuthError(err) || isUnknownTopic(err) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Kafka protocol errors with retriable flag
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}

	// Everything else at this level is network trouble reaching the broker.
	// Refused dials included: a session outlives a broker restart.
	return true
}

// classify maps a broker error onto the engine's error taxonomy. Only
// transient failures become BROKER_UNREACHABLE, the one kind callers retry;
// permanent protocol rejections become INVALID_REQUEST.
func classify(op string, err error) *domain.EngineError {
	switch {
	case isAuthError(err):
		return domain.NewError(domain.ErrorAuthenticationFailed, op, err)
	case isUnknownTopic(err):
		return domain.NewError(domain.ErrorTopicNotFound, op, err)
	case IsRetryable(err):
		return domain.NewError(domain.ErrorBrokerUnreachable, op, err)
	default:
		return domain.NewError(domain.ErrorInvalidRequest, op, err)
	}
}
