package marketplace

// Status is the payment status of an order. Values other than the constants
// below are accepted verbatim from the gateway.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusInProcess  Status = "in_process"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
	StatusChargeback Status = "charged_back"
)

// Transition is what a payment notification does to an order.
type Transition int

const (
	TransitionNone    Transition = iota // status unchanged
	TransitionApprove                   // first approval: stock and cart side effects
	TransitionReplay                    // approval already applied
	TransitionUpdate                    // non-approved status overwrite
)

func (t Transition) String() string {
	switch t {
	case TransitionApprove:
		return "approve"
	case TransitionReplay:
		return "replay"
	case TransitionUpdate:
		return "update"
	default:
		return "none"
	}
}

// NextTransition decides how an incoming gateway status applies to an order
// currently in status current. Approved is terminal for inventory.
func NextTransition(current, incoming Status) Transition {
	switch {
	case incoming == StatusApproved && current != StatusApproved:
		return TransitionApprove
	case incoming == StatusApproved:
		return TransitionReplay
	case incoming != current:
		return TransitionUpdate
	default:
		return TransitionNone
	}
}
