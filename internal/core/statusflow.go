package core

// statusFlow is the complete set of allowed edges. A status missing from the
// map, or mapped to an empty slice, has no outgoing edge.
var statusFlow = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing,
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	PaymentStatusProcessing: {
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	PaymentStatusPaid: {
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	},
	PaymentStatusFailed: {
		PaymentStatusPending,
	},
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s PaymentStatus) []PaymentStatus {
	next := statusFlow[s]
	out := make([]PaymentStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an edge of the status flow.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range statusFlow[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that has an edge into to.
func SourcesOf(to PaymentStatus) []PaymentStatus {
	var out []PaymentStatus
	for _, from := range AllStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// CanTransitionTo returns a ProcessingError naming both statuses when the
// payment cannot move to target.
func (p *Payment) CanTransitionTo(target PaymentStatus) error {
	if CanTransition(p.Status, target) {
		return nil
	}
	return NewProcessingError(target, p.Status)
}
