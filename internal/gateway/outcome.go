package gateway

import (
	"github.com/adi3g/guardian/internal/errors"
	"github.com/adi3g/guardian/internal/loadbalancer"
)

// Outcome is the result of running a request through the admission
// pipeline. Exactly one of the three variants is produced; the HTTP
// adapter maps it to a response.
type Outcome interface {
	isOutcome()
}

// Forward admits the request and names the upstream to dispatch to.
type Forward struct {
	Upstream loadbalancer.Upstream
}

// Redirect short-circuits the request with a redirection target.
type Redirect struct {
	URL string
}

// Deny short-circuits the request with a client-visible error.
// Reason is a stable label for metrics.
type Deny struct {
	Err    *errors.GatewayError
	Reason string
}

func (Forward) isOutcome()  {}
func (Redirect) isOutcome() {}
func (Deny) isOutcome()     {}
