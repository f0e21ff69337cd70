package models

import "fmt"

// InvalidTransitionError reports an order status change the state machine
// does not permit. No mutation happens when it is returned.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition: %s -> %s", e.From, e.To)
}
