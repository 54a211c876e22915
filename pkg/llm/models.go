package llm

import (
	"encoding/json"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/store"
)

// App configuration keys read by the pipeline and clients.
const (
	ConfigModels  = "openrouter_models"
	ConfigPrivacy = "openrouter_privacy"
)

// EnabledModels returns the configured model ids in order. A missing key is
// an empty list.
func EnabledModels() ([]string, error) {
	e, err := store.GetConfig(ConfigModels)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(e.Value, &ids); err != nil {
		return nil, apperr.Misconfigured("%s must be a JSON array of model ids", ConfigModels)
	}
	return ids, nil
}

// PrivacyEnabled reports the provider privacy flag. Unset means off.
func PrivacyEnabled() bool {
	e, err := store.GetConfig(ConfigPrivacy)
	if err != nil {
		return false
	}
	var on bool
	return json.Unmarshal(e.Value, &on) == nil && on
}

// SeedModels writes seed as the model list when none is configured yet.
func SeedModels(seed []string) error {
	if len(seed) == 0 {
		return nil
	}
	if _, err := store.GetConfig(ConfigModels); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	raw, err := json.Marshal(seed)
	if err != nil {
		return err
	}
	if _, err := store.SetConfig(ConfigModels, raw, "system:seed"); err != nil {
		return err
	}
	logger.Info("models_seeded", "count", len(seed))
	return nil
}

// ResolveModel picks the model a request runs on. An explicit id must be
// enabled; an empty id falls back to the first enabled model.
func ResolveModel(requested string) (string, error) {
	ids, err := EnabledModels()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", apperr.Misconfigured("no models configured")
	}
	if requested == "" {
		return ids[0], nil
	}
	for _, id := range ids {
		if id == requested {
			return id, nil
		}
	}
	return "", apperr.Invalid("modelId", "model %s is not available", requested)
}
