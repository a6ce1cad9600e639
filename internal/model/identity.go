package model

import (
	"fmt"
	"regexp"
)

// Scope type of a query: evaluated against a whole account or one zone.
const (
	ScopeAccount = "account"
	ScopeZone    = "zone"
)

// QueryIdentity uniquely identifies one query exporter as
// (scope type, scope id, query name). Its string encoding is the actor key
// under which the exporter's state is persisted.
type QueryIdentity struct {
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
	QueryName string `json:"query_name"`
}

var identityRegex = regexp.MustCompile(`^(account|zone):([A-Za-z0-9_-]+):([a-z][a-z0-9-]*)$`)

// ParseIdentity parses the colon-delimited encoding, e.g.
// "account:abc123:worker-totals". Malformed input is rejected.
func ParseIdentity(s string) (QueryIdentity, error) {
	m := identityRegex.FindStringSubmatch(s)
	if m == nil {
		return QueryIdentity{}, fmt.Errorf("malformed query identity %q", s)
	}
	return QueryIdentity{ScopeType: m[1], ScopeID: m[2], QueryName: m[3]}, nil
}

func (q QueryIdentity) String() string {
	return q.ScopeType + ":" + q.ScopeID + ":" + q.QueryName
}
