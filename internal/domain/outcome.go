package domain

// Fixed failure details recorded without a transport attempt.
const (
	DetailNoCapability = "no delivery capability available"
	DetailUnsubscribed = "recipient unsubscribed"
	DetailSent         = "sent"
)

// DeliveryOutcome is the result of a single send attempt.
type DeliveryOutcome struct {
	Success bool
	Detail  string
}

func Delivered(detail string) DeliveryOutcome {
	if detail == "" {
		detail = DetailSent
	}
	return DeliveryOutcome{Success: true, Detail: detail}
}

func Failed(detail string) DeliveryOutcome {
	return DeliveryOutcome{Success: false, Detail: detail}
}

// Status maps the outcome to the terminal record status.
func (o DeliveryOutcome) Status() Status {
	if o.Success {
		return StatusSent
	}
	return StatusFailed
}
