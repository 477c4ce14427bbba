// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	ResultsStored      = expvar.NewInt("results_stored")
	ResultsNotStored   = expvar.NewInt("results_not_stored")
	StoreErrors        = expvar.NewInt("store_errors")
	ChecksRun          = expvar.NewInt("checks_run")
	ActionsRun         = expvar.NewInt("actions_run")
	RunErrors          = expvar.NewInt("run_errors")
	DispatchErrors     = expvar.NewInt("dispatch_errors")
	ActionsSkipped     = expvar.NewInt("actions_skipped")
	MessagesProcessed  = expvar.NewInt("messages_processed")
	Propagations       = expvar.NewInt("propagations")
	RunEventsPublished = expvar.NewInt("run_events_published")
	KeysArchived       = expvar.NewInt("keys_archived")
	ArchiveFailures    = expvar.NewInt("archive_failures")
)
