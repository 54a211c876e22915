package store

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/models"
)

// GetConfig loads an App Configuration entry.
func GetConfig(key string) (models.ConfigEntry, error) {
	var e models.ConfigEntry
	err := getJSON(configKey(key), &e)
	return e, err
}

// SetConfig writes an App Configuration entry, stamping UpdatedAt.
func SetConfig(key string, value json.RawMessage, updatedBy string) (models.ConfigEntry, error) {
	if !json.Valid(value) {
		return models.ConfigEntry{}, errors.Errorf("config %s: value is not valid JSON", key)
	}
	e := models.ConfigEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: updatedBy,
	}
	return e, putJSON(configKey(key), e)
}

// ListConfig returns every entry ordered by key.
func ListConfig() ([]models.ConfigEntry, error) {
	return decodeEach[models.ConfigEntry]("appconfig:", nil, 0)
}
