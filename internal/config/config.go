package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fintrack/bank-sync/internal/dto"
)

type Config struct {
	ProjectID        string
	Region           string
	LogLevel         string
	PlaidClientID    string
	PlaidSecret      string
	PlaidEnvironment dto.PlaidEnvironment
	KMSKeyName       string

	// WebhookAllowedCIDRs is the provider source allow-list for inbound
	// webhooks, comma-separated.
	WebhookAllowedCIDRs []string

	// Escalation and sync policy. Observed defaults, overridable per env.
	SyncWindowDays       int
	HistoricalWindowDays int
	NotifyCooldown       time.Duration
	DisableAfter         time.Duration
	DisableMinNotified   int
	SyncTimeout          time.Duration
	MaxAttempts          int
	WorkerConcurrency    int
	HealthScanInterval   time.Duration
}

func New() *Config {
	return &Config{
		ProjectID:        os.Getenv("PROJECTID"),
		Region:           os.Getenv("REGION"),
		LogLevel:         os.Getenv("LOGLEVEL"),
		PlaidClientID:    os.Getenv("PLAIDCLIENTID"),
		PlaidSecret:      os.Getenv("PLAIDSECRET"),
		PlaidEnvironment: getPlaidEnvironment(os.Getenv("PLAIDENVIRONMENT")),
		KMSKeyName:       os.Getenv("KMSKEYNAME"),

		WebhookAllowedCIDRs: splitCSV(os.Getenv("WEBHOOKALLOWEDCIDRS")),

		SyncWindowDays:       getInt("SYNCWINDOWDAYS", 30),
		HistoricalWindowDays: getInt("HISTORICALWINDOWDAYS", 730),
		NotifyCooldown:       time.Duration(getInt("NOTIFYCOOLDOWNHOURS", 72)) * time.Hour,
		DisableAfter:         time.Duration(getInt("DISABLEAFTERDAYS", 30)) * 24 * time.Hour,
		DisableMinNotified:   getInt("DISABLEMINNOTIFICATIONS", 5),
		SyncTimeout:          time.Duration(getInt("SYNCTIMEOUTSECONDS", 120)) * time.Second,
		MaxAttempts:          getInt("MAXATTEMPTS", 5),
		WorkerConcurrency:    getInt("WORKERCONCURRENCY", 8),
		HealthScanInterval:   time.Duration(getInt("HEALTHSCANINTERVALHOURS", 24)) * time.Hour,
	}
}

func getPlaidEnvironment(env string) dto.PlaidEnvironment {
	switch env {
	case "sandbox":
		return dto.PlaidSandbox
	default: // "production"
		return dto.PlaidProduction
	}
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
