package eventlog

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// PostgresArchive is a Sink writing every appended event into the
// audit_events archive table. Rows are insert-only.
type PostgresArchive struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresArchive creates an archive sink backed by db.
func NewPostgresArchive(db *sql.DB, log *logger.Logger) *PostgresArchive {
	return &PostgresArchive{
		db:     db,
		logger: log,
	}
}

// Archive inserts the event into the archive table.
func (a *PostgresArchive) Archive(event *types.AuditEvent) error {
	data := event.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	query := `
		INSERT INTO audit_events (
			seq, event_timestamp, event_type, caller_id, service_id,
			datatype_id, patient_id, contract_id, contract_org_ids,
			consent_owner_target_ids, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := a.db.Exec(query,
		event.Seq,
		event.Timestamp,
		string(event.Type),
		event.CallerID,
		nullable(event.ServiceID),
		nullable(event.DatatypeID),
		nullable(event.PatientID),
		nullable(event.ContractID),
		pq.Array(event.ContractOrgIDs),
		pq.Array(event.ConsentOwnerTargetIDs),
		[]byte(data),
	)
	if err != nil {
		return fmt.Errorf("failed to archive audit event %d: %w", event.Seq, err)
	}

	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
