package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ini/ini"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"sparkify/internal/staging"
	"sparkify/internal/warehouse"
	"sparkify/pkg/errors"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SPARKIFY_CLUSTER_HOST
	EnvPrefix = "SPARKIFY"
	// DefaultFile is read from the working directory when no path is given
	DefaultFile = "dwh.cfg"
	// KeyringService holds warehouse passwords, keyed by DB_USER
	KeyringService = "sparkify"
)

// Cluster is the [CLUSTER] section
type Cluster struct {
	Host       string
	DBName     string
	DBUser     string
	DBPassword string
	DBPort     int
}

// S3 is the [S3] section
type S3 struct {
	LogData         string
	LogJSONPath     string
	SongData        string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Warehouse is the [WAREHOUSE] section
type Warehouse struct {
	Dialect string
	// DSN is the sqlite database path
	DSN string
	// LocalLoad loads staging through the client even when the engine could
	// bulk load from S3 itself.
	LocalLoad bool
}

// Snowflake is the [SNOWFLAKE] section
type Snowflake struct {
	Account            string
	Warehouse          string
	Role               string
	Schema             string
	StorageIntegration string
}

// Config is the resolved dwh.cfg
type Config struct {
	Cluster   Cluster
	IAMRole   string
	S3        S3
	Warehouse Warehouse
	Snowflake Snowflake

	// Path is the file the configuration was read from, empty when it came
	// from the environment alone.
	Path string
}

// Path returns the configuration file to read: SPARKIFY_CONFIG when set,
// otherwise dwh.cfg in the working directory.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return DefaultFile
}

// NewViper returns a viper instance resolving SPARKIFY_<SECTION>_<KEY>
// environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cluster.db_port", 5439)
	v.SetDefault("warehouse.dialect", "redshift")
	v.SetDefault("warehouse.local_load", false)
	return v
}

// Load reads the INI file at path into v and resolves the configuration.
// An empty path skips the file and uses defaults and the environment only.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if err := readINI(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Cluster: Cluster{
			Host:       get(v, "cluster.host"),
			DBName:     get(v, "cluster.db_name"),
			DBUser:     get(v, "cluster.db_user"),
			DBPassword: get(v, "cluster.db_password"),
			DBPort:     v.GetInt("cluster.db_port"),
		},
		IAMRole: get(v, "iam_role.arn"),
		S3: S3{
			LogData:         get(v, "s3.log_data"),
			LogJSONPath:     get(v, "s3.log_jsonpath"),
			SongData:        get(v, "s3.song_data"),
			Region:          get(v, "s3.region"),
			Endpoint:        get(v, "s3.endpoint"),
			AccessKeyID:     get(v, "s3.access_key_id"),
			SecretAccessKey: get(v, "s3.secret_access_key"),
		},
		Warehouse: Warehouse{
			Dialect:   strings.ToLower(get(v, "warehouse.dialect")),
			DSN:       get(v, "warehouse.dsn"),
			LocalLoad: v.GetBool("warehouse.local_load"),
		},
		Snowflake: Snowflake{
			Account:            get(v, "snowflake.account"),
			Warehouse:          get(v, "snowflake.warehouse"),
			Role:               get(v, "snowflake.role"),
			Schema:             get(v, "snowflake.schema"),
			StorageIntegration: get(v, "snowflake.storage_integration"),
		},
		Path: path,
	}

	if cfg.Cluster.DBPassword == "" && cfg.Cluster.DBUser != "" {
		password, err := keyring.Get(KeyringService, cfg.Cluster.DBUser)
		switch {
		case err == nil:
			cfg.Cluster.DBPassword = password
		case !stderrors.Is(err, keyring.ErrNotFound):
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read password from keyring").
				WithContext("user", cfg.Cluster.DBUser)
		}
	}

	return cfg, nil
}

// readINI merges the sections of a dwh.cfg file into v as section.key
func readINI(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigNotFound, "Configuration file not found").
			WithContext("path", path).
			WithSuggestions("Create dwh.cfg or point SPARKIFY_CONFIG at it")
	}

	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true}, path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to parse configuration file").
			WithContext("path", path)
	}

	settings := make(map[string]any)
	for _, section := range file.Sections() {
		if len(section.Keys()) == 0 {
			continue
		}
		values := make(map[string]any)
		for _, key := range section.Keys() {
			values[key.Name()] = key.String()
		}
		settings[section.Name()] = values
	}
	return v.MergeConfigMap(settings)
}

func get(v *viper.Viper, key string) string {
	return unquote(strings.TrimSpace(v.GetString(key)))
}

// unquote strips one pair of matching surrounding quotes. dwh.cfg files
// commonly quote S3 locations so they can be pasted into SQL verbatim.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Validate checks that the selected dialect can connect
func (c *Config) Validate() error {
	if _, err := warehouse.DialectFor(c.Warehouse.Dialect); err != nil {
		return err
	}

	var required []struct{ field, value string }
	add := func(field, value string) {
		required = append(required, struct{ field, value string }{field, value})
	}

	switch c.Warehouse.Dialect {
	case "redshift":
		add("CLUSTER.HOST", c.Cluster.Host)
		add("CLUSTER.DB_NAME", c.Cluster.DBName)
		add("CLUSTER.DB_USER", c.Cluster.DBUser)
		add("CLUSTER.DB_PASSWORD", c.Cluster.DBPassword)
		if c.Cluster.DBPort <= 0 || c.Cluster.DBPort > 65535 {
			return errors.ConfigError(fmt.Sprintf("invalid port %d", c.Cluster.DBPort), "CLUSTER.DB_PORT")
		}
	case "snowflake":
		add("SNOWFLAKE.ACCOUNT", c.Snowflake.Account)
		add("SNOWFLAKE.WAREHOUSE", c.Snowflake.Warehouse)
		add("CLUSTER.DB_NAME", c.Cluster.DBName)
		add("CLUSTER.DB_USER", c.Cluster.DBUser)
		add("CLUSTER.DB_PASSWORD", c.Cluster.DBPassword)
	case "sqlite":
		add("WAREHOUSE.DSN", c.Warehouse.DSN)
	}

	for _, r := range required {
		if r.value == "" {
			return errors.ConfigError(fmt.Sprintf("%s is required for the %s dialect", r.field, c.Warehouse.Dialect), r.field)
		}
	}
	return nil
}

// LoadConfig returns the staging source locations
func (c *Config) LoadConfig() warehouse.LoadConfig {
	return warehouse.LoadConfig{
		LogData:            c.S3.LogData,
		LogJSONPath:        c.S3.LogJSONPath,
		SongData:           c.S3.SongData,
		IAMRole:            c.IAMRole,
		Region:             c.S3.Region,
		StorageIntegration: c.Snowflake.StorageIntegration,
	}
}

// ConnConfig returns the warehouse connection settings
func (c *Config) ConnConfig() warehouse.ConnConfig {
	return warehouse.ConnConfig{
		Dialect:   c.Warehouse.Dialect,
		Host:      c.Cluster.Host,
		Port:      c.Cluster.DBPort,
		Database:  c.Cluster.DBName,
		User:      c.Cluster.DBUser,
		Password:  c.Cluster.DBPassword,
		DSN:       c.Warehouse.DSN,
		Account:   c.Snowflake.Account,
		Warehouse: c.Snowflake.Warehouse,
		Role:      c.Snowflake.Role,
		Schema:    c.Snowflake.Schema,
	}
}

// S3Options returns the client settings for reading sources directly
func (c *Config) S3Options() staging.S3Options {
	return staging.S3Options{
		Region:          c.S3.Region,
		Endpoint:        c.S3.Endpoint,
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: c.S3.SecretAccessKey,
	}
}

// StorePassword saves the warehouse password for user in the OS keyring
func StorePassword(user, password string) error {
	if err := keyring.Set(KeyringService, user, password); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to store password in keyring").
			WithContext("user", user)
	}
	return nil
}
