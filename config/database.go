package config

import "time"

// DBConfig contains PostgreSQL connection configuration for the job store,
// scan-event pipeline, rule engine, and alert dispatcher tables.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"merrymaker"`
	Password string `env:"PASSWORD" envDefault:"merrymaker"`
	Name     string `env:"NAME"     envDefault:"merrymaker"`

	// Secure enables TLS to the database with a pinned CA (spec §6 postgres.secure).
	Secure bool `env:"SECURE" envDefault:"false"`
	// CA is the path to a PEM-encoded CA certificate, required when Secure is set.
	CA string `env:"CA"`

	// RunMigrationsOnStart applies pending schema_migrations entries during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`

	// MaxConns bounds the pgxpool connection pool size.
	MaxConns int32 `env:"MAX_CONNS" envDefault:"10"`
	// MaxConnLifetime bounds how long a pooled connection is reused.
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
}

// Sanitize applies guardrails to database configuration values.
func (d *DBConfig) Sanitize() {
	if d.MaxConns < 1 {
		d.MaxConns = 1
	}
	if d.MaxConnLifetime <= 0 {
		d.MaxConnLifetime = time.Hour
	}
	if !d.Secure {
		d.CA = ""
	}
}

// RedisConfig contains Redis session-store configuration, including Sentinel
// mode (spec §6 redis.useSentinel).
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	UseSentinel      bool     `env:"USE_SENTINEL"      envDefault:"false"`
	SentinelNodes    []string `env:"SENTINEL_NODES"    envDefault:"localhost:26379" envSeparator:","`
	SentinelMaster   string   `env:"SENTINEL_MASTER"   envDefault:"mymaster"`
	SentinelPort     string   `env:"SENTINEL_PORT"     envDefault:"26379"`
	SentinelPassword string   `env:"SENTINEL_PASSWORD" envDefault:""`
}

// Sanitize applies guardrails to Redis configuration values.
func (r *RedisConfig) Sanitize() {
	if !r.UseSentinel {
		r.SentinelNodes = nil
		r.SentinelMaster = ""
		r.SentinelPort = ""
		r.SentinelPassword = ""
		return
	}
	if len(r.SentinelNodes) == 0 {
		r.SentinelNodes = []string{"localhost:26379"}
	}
	if r.SentinelMaster == "" {
		r.SentinelMaster = "mymaster"
	}
}
