package session

import "github.com/rs/xid"

// newTraceID returns a short globally-sortable id for observability on
// the TxAppData compatibility fallback ladder, grounded on
// runZeroInc-sockstats's use of xid.New().String() for request trace
// ids.
func newTraceID() string {
	return xid.New().String()
}
