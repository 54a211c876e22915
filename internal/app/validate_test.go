package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"assetdesk/pkg/config"
)

func effective(mut func(c *config.Config)) config.EffectiveConfigResult {
	c := &config.Config{}
	if mut != nil {
		mut(c)
	}
	c.ApplyDefaults()
	return config.EffectiveConfigResult{Config: c, Addr: c.Addr(), DBPath: c.Server.DBPath}
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, validateConfig(effective(nil)))

	cases := map[string]config.EffectiveConfigResult{}
	cases["nil config"] = config.EffectiveConfigResult{}
	cases["half tls"] = effective(func(c *config.Config) { c.Server.TLS.CertFile = "cert.pem" })
	cases["missing cert"] = effective(func(c *config.Config) {
		c.Server.TLS.CertFile = filepath.Join(t.TempDir(), "nope.pem")
		c.Server.TLS.KeyFile = "key.pem"
	})
	cases["bad cron"] = effective(func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.Cron = "every tuesday"
	})
	cases["stale before generation can finish"] = effective(func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.StaleAfter = config.Duration(time.Minute)
	})
	for name, eff := range cases {
		assert.Error(t, validateConfig(eff), name)
	}

	noDB := effective(nil)
	noDB.DBPath = ""
	assert.Error(t, validateConfig(noDB))

	// stale_after only matters while the sweeper runs
	idle := effective(func(c *config.Config) { c.Retention.StaleAfter = config.Duration(time.Minute) })
	assert.NoError(t, validateConfig(idle))
}
