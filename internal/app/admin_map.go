package app

import (
	"strings"
	"time"

	"fifosched/internal/config"
	"fifosched/internal/observability/admin"
)

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	// pprof profile and trace stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("admin.write_timeout", ac.WriteTimeout, time.Minute)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, time.Minute)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:              ac.Enabled,
		Addr:                 strings.TrimSpace(ac.Addr),
		Token:                strings.TrimSpace(ac.Token),
		AllowInsecure:        ac.AllowInsecure,
		Pprof:                ac.Pprof,
		PprofPrefix:          ac.PprofPrefix,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: ac.MutexProfileFraction,
		BlockProfileRate:     ac.BlockProfileRate,
	}, nil
}
