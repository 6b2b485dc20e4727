package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntryEditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrbook_entry_edits_total",
			Help: "Entry edit submissions by outcome",
		},
		[]string{"result"},
	)

	EntriesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "addrbook_entries_deleted_total",
			Help: "Total number of deleted entries",
		},
	)

	BlobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrbook_blob_failures_total",
			Help: "Failed picture storage operations",
		},
		[]string{"operation"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrbook_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"result"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrbook_confirmations_total",
			Help: "Account confirmation attempts by outcome",
		},
		[]string{"result"},
	)
)

// Outcome labels shared by the counters above.
const (
	ResultSuccess        = "success"
	ResultConflict       = "conflict"
	ResultInvalid        = "invalid"
	ResultNotFound       = "not_found"
	ResultStorageFailure = "storage_failure"
	ResultMailFailure    = "mail_failure"
	ResultError          = "error"
)
