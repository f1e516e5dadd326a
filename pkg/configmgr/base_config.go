package configmgr

// Config - config interface.
type Config interface {
	GetServiceName() string
	GetVersion() string
	GetEnvironment() string
	GetServerConfig() *ServerConfig
	GetLoggingConfig() *LoggingConfig
	GetDatabaseConfig() *DatabaseConfig
	GetTransactionConfig() *TransactionConfig
	IsLocalEnvironment() bool
}

// BaseConfig - app config struct.
// This struct represents the base configuration for the application and is expected to be in the following YAML format:
/*
name: "TestApp"
environment: "development"
version: "1.0"
logging:
  level: "debug"
server:
  port: "8080"
  concurrency: 10
  disableStartupMsg: false
database:
  host: localhost
  port: 5432
  name: main-db
  user: postgres
  password: password
  vpcDirectConnection: false
transaction:
  disableAutoRollback: false
*/
type BaseConfig struct {
	Name        string             `mapstructure:"name"`
	Environment string             `mapstructure:"environment"`
	Version     string             `mapstructure:"version"`
	Logging     *LoggingConfig     `mapstructure:"logging"`
	Server      *ServerConfig      `mapstructure:"server"`
	Database    *DatabaseConfig    `mapstructure:"database"`
	Transaction *TransactionConfig `mapstructure:"transaction"`
}

type ServerConfig struct {
	Port                  string `mapstructure:"port"`
	Concurrency           int    `mapstructure:"concurrency"`
	DisableStartupMessage bool   `mapstructure:"disableStartupMsg"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig - connection properties of the single wrapped connection.
type DatabaseConfig struct {
	Host                string `mapstructure:"host"`
	Port                int32  `mapstructure:"port"`
	Name                string `mapstructure:"name"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	VpcDirectConnection bool   `mapstructure:"vpcDirectConnection"`
}

// TransactionConfig - behaviour of the transaction queue.
type TransactionConfig struct {
	// DisableAutoRollback turns off the rollback issued when the connection
	// emits an error event while a transaction is open.
	DisableAutoRollback bool `mapstructure:"disableAutoRollback"`
}

func (cfg BaseConfig) GetServiceName() string {
	return cfg.Name
}

func (cfg BaseConfig) GetVersion() string {
	return cfg.Version
}

func (cfg BaseConfig) GetEnvironment() string {
	return cfg.Environment
}

func (cfg BaseConfig) IsLocalEnvironment() bool {
	return checkIfLocalEnv(cfg.Environment)
}

func (cfg BaseConfig) GetServerConfig() *ServerConfig {
	return cfg.Server
}

func (cfg BaseConfig) GetLoggingConfig() *LoggingConfig {
	if cfg.Logging == nil {
		return &LoggingConfig{Level: "info"}
	}

	return cfg.Logging
}

func (cfg BaseConfig) GetDatabaseConfig() *DatabaseConfig {
	return cfg.Database
}

func (cfg BaseConfig) GetTransactionConfig() *TransactionConfig {
	if cfg.Transaction == nil {
		return &TransactionConfig{}
	}

	return cfg.Transaction
}
