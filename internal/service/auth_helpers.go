package service

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/noah-isme/smorting-auth/internal/models"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
)

func newEvent(eventType models.SecurityEventType, account string, meta models.RequestMeta, success bool, detail string) models.SecurityEvent {
	return models.SecurityEvent{
		EventType:  eventType,
		AccountKey: account,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Success:    success,
		Detail:     detail,
	}
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, appErrors.ErrNotFound)
}

// isUUID reports whether id can name a stored row. Every primary key is a UUID.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
