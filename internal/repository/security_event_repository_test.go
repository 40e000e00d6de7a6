package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smorting-auth/internal/models"
)

func TestAppendSecurityEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectExec("INSERT INTO security_events").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), &models.SecurityEvent{
		ID: "e1", EventType: models.EventLoginFailed, AccountKey: "a@b.c", IPAddress: "10.0.0.1", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSecurityEventError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectExec("INSERT INTO security_events").WillReturnError(errors.New("boom"))

	err := repo.Append(context.Background(), &models.SecurityEvent{ID: "e1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
