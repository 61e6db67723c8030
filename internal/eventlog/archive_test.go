package eventlog

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

func TestPostgresArchive_Archive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	archive := NewPostgresArchive(db, logger.New("error"))

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			uint64(7),
			int64(1700000000),
			string(types.EventCreateContract),
			"org1admin",
			"svc1",
			nil,
			nil,
			"contract1",
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			[]byte(`{"terms":"v1"}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = archive.Archive(&types.AuditEvent{
		Seq:            7,
		Timestamp:      1700000000,
		Type:           types.EventCreateContract,
		CallerID:       "org1admin",
		ServiceID:      "svc1",
		ContractID:     "contract1",
		ContractOrgIDs: []string{"orgA", "orgB"},
		Data:           []byte(`{"terms":"v1"}`),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchive_EmptyDataDefaultsToObject(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	archive := NewPostgresArchive(db, logger.New("error"))

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			uint64(1),
			int64(1700000000),
			string(types.EventGrantPermission),
			"sysadmin",
			nil, nil, nil, nil,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			[]byte("{}"),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = archive.Archive(&types.AuditEvent{
		Seq:       1,
		Timestamp: 1700000000,
		Type:      types.EventGrantPermission,
		CallerID:  "sysadmin",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchive_InsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	archive := NewPostgresArchive(db, logger.New("error"))

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(assert.AnError)

	err = archive.Archive(&types.AuditEvent{
		Seq:       3,
		Timestamp: 1700000000,
		Type:      types.EventRegisterOrg,
		CallerID:  "sysadmin",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to archive audit event 3")
}
