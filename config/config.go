// Package config loads the service's environment-driven configuration
// (spec section 6). Grounded on Boulder's cmd.Config pattern of a
// single struct hydrated once at startup with no implicit defaults
// for secrets, adapted here from Boulder's JSON-config-file loading
// to environment variables via spf13/viper, matching this service's
// container-first deployment model.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LDAP bundles the LDAP connection and DIT-shape configuration.
type LDAP struct {
	ReadHosts       []string
	WriteHost       string
	BindDN          string
	BindPasswordEnv string
	BaseDN          string
	DataBranch      string
	NCDataBranch    string
	DialTimeout     time.Duration
	AcquireTimeout  time.Duration
}

// Database bundles the Postgres connection configuration.
type Database struct {
	Host           string
	Port           int
	Name           string
	User           string
	PasswordEnv    string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
	SSLMode        string
}

// Auth bundles the JWT gate configuration.
type Auth struct {
	Enabled           bool
	SecretEnv         string
	PublicPathPatterns []string
}

// Config is the fully-hydrated, validated service configuration.
type Config struct {
	Database Database
	LDAP     LDAP
	Auth     Auth

	TrustAnchorPath string
	ServerPort      int
	WorkerCount     int
	UploadDir       string

	ICAOPortalURL        string
	NotificationEmail    string
	SchedulerHour        int
}

// Load reads configuration from environment variables (optionally
// prefixed) via viper, applies defaults for non-secret fields, and
// fails loudly if any required non-secret setting is absent. The
// secrets themselves are not read here: Config only names their
// environment variables, and dbpool.New, ldappool.New and
// authaudit.NewGate refuse to start when one is unset or empty
// (spec section 6).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "require")
	v.SetDefault("db.minconns", 2)
	v.SetDefault("db.maxconns", 10)
	v.SetDefault("db.acquiretimeoutsec", 5)
	v.SetDefault("db.passwordenv", "PKD_DB_PASSWORD")

	v.SetDefault("ldap.dialtimeoutsec", 3)
	v.SetDefault("ldap.acquiretimeoutsec", 5)
	v.SetDefault("ldap.databranch", "dc=download,dc=data")
	v.SetDefault("ldap.ncdatabranch", "dc=download,dc=nc-data")
	v.SetDefault("ldap.bindpasswordenv", "PKD_LDAP_BIND_PASSWORD")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.secretenv", "PKD_JWT_SECRET")
	v.SetDefault("auth.publicpathpatterns", []string{`^/api/health(/.*)?$`})

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workercount", 4)
	v.SetDefault("uploaddir", "/app/uploads")
	v.SetDefault("scheduler.hour", 2)

	cfg := &Config{
		Database: Database{
			Host:           v.GetString("db.host"),
			Port:           v.GetInt("db.port"),
			Name:           v.GetString("db.name"),
			User:           v.GetString("db.user"),
			PasswordEnv:    v.GetString("db.passwordenv"),
			MinConns:       int32(v.GetInt("db.minconns")),
			MaxConns:       int32(v.GetInt("db.maxconns")),
			AcquireTimeout: v.GetDuration("db.acquiretimeoutsec") * time.Second,
			SSLMode:        v.GetString("db.sslmode"),
		},
		LDAP: LDAP{
			ReadHosts:       splitCSV(v.GetString("ldap.readhosts")),
			WriteHost:       v.GetString("ldap.writehost"),
			BindDN:          v.GetString("ldap.binddn"),
			BindPasswordEnv: v.GetString("ldap.bindpasswordenv"),
			BaseDN:          v.GetString("ldap.basedn"),
			DataBranch:      v.GetString("ldap.databranch"),
			NCDataBranch:    v.GetString("ldap.ncdatabranch"),
			DialTimeout:     v.GetDuration("ldap.dialtimeoutsec") * time.Second,
			AcquireTimeout:  v.GetDuration("ldap.acquiretimeoutsec") * time.Second,
		},
		Auth: Auth{
			Enabled:            v.GetBool("auth.enabled"),
			SecretEnv:          v.GetString("auth.secretenv"),
			PublicPathPatterns: v.GetStringSlice("auth.publicpathpatterns"),
		},
		TrustAnchorPath:   v.GetString("trustanchorpath"),
		ServerPort:        v.GetInt("server.port"),
		WorkerCount:       v.GetInt("server.workercount"),
		UploadDir:         v.GetString("uploaddir"),
		ICAOPortalURL:     v.GetString("icao.portalurl"),
		NotificationEmail: v.GetString("icao.notificationemail"),
		SchedulerHour:     v.GetInt("scheduler.hour"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validate reports every missing required non-secret setting in one
// error. It does not check the secret environment variables; see Load.
func (c *Config) validate() error {
	var missing []string
	if c.Database.Host == "" {
		missing = append(missing, "db.host")
	}
	if c.Database.Name == "" {
		missing = append(missing, "db.name")
	}
	if c.Database.User == "" {
		missing = append(missing, "db.user")
	}
	if len(c.LDAP.ReadHosts) == 0 {
		missing = append(missing, "ldap.readhosts")
	}
	if c.LDAP.WriteHost == "" {
		missing = append(missing, "ldap.writehost")
	}
	if c.LDAP.BindDN == "" {
		missing = append(missing, "ldap.binddn")
	}
	if c.LDAP.BaseDN == "" {
		missing = append(missing, "ldap.basedn")
	}
	if c.Auth.Enabled && c.Auth.SecretEnv == "" {
		missing = append(missing, "auth.secretenv")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
