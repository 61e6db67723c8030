package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the archive schema for audit events
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating audit archive schema...")

	tables := []string{
		createAuditEventsTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createAuditEventsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Audit archive schema created successfully")
	return nil
}

// SQL DDL statements for table creation. The archive mirrors the
// in-memory event log: seq is the append order and rows are never
// updated or deleted.
const (
	createAuditEventsTable = `
		CREATE TABLE IF NOT EXISTS audit_events (
			seq BIGINT PRIMARY KEY,
			event_timestamp BIGINT NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			caller_id VARCHAR(128) NOT NULL,
			service_id VARCHAR(128),
			datatype_id VARCHAR(128),
			patient_id VARCHAR(128),
			contract_id VARCHAR(128),
			contract_org_ids TEXT[],
			consent_owner_target_ids TEXT[],
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			archived_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createAuditEventsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_audit_events_service_id ON audit_events(service_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_datatype_id ON audit_events(datatype_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_patient_id ON audit_events(patient_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_contract_id ON audit_events(contract_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(event_timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);`
)
