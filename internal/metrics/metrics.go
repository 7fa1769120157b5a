package metrics

import "expvar"

var (
	TicksProcessed    = expvar.NewInt("ticks_processed")
	IntentsAdmitted   = expvar.NewInt("intents_admitted")
	IntentsDuplicate  = expvar.NewInt("intents_duplicate")
	OrdersExecuted    = expvar.NewInt("orders_executed")
	OrdersRejected    = expvar.NewInt("orders_rejected")
	KillSwitchFires   = expvar.NewInt("kill_switch_fires")
	BreakerTrips      = expvar.NewInt("breaker_trips")
	AuditAppendErrors = expvar.NewInt("audit_append_errors")
)
