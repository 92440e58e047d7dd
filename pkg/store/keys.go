package store

import "fmt"

// Cross-component key builders. Keys used by a single component stay
// private to that component; these are shared between the response
// executor (which writes them) and the analyzers (which read them).

// BlockedIPKey holds a block record for a source address that automated
// response has taken out of circulation.
func BlockedIPKey(ip string) string {
	return fmt.Sprintf("security:blocked_ip:%s", ip)
}

// ResponseAuditKey holds the append-only automated-response audit trail
// for one incident.
func ResponseAuditKey(incidentID string) string {
	return fmt.Sprintf("security:response:%s", incidentID)
}

// TightenedKey holds a rate-limit override written by automated
// response and consumed by the limiter, which shrinks the matched
// rule's budget for the identifier while the record lives.
func TightenedKey(identifier string) string {
	return fmt.Sprintf("security:tightened:%s", identifier)
}
