package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Ledger LedgerConfig `yaml:"ledger"`
	Minio  MinioConfig  `yaml:"minio"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
	Users  []User       `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory store is meant for
	// development and tests.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LedgerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RPCURL          string `yaml:"rpc_url"`
	PrivateKey      string `yaml:"private_key"`
	ContractAddress string `yaml:"contract_address"`
	Network         string `yaml:"network"` // local, testnet, mainnet
	ChainID         int64  `yaml:"chain_id"`
	ConfirmTimeout  int    `yaml:"confirm_timeout_seconds"`
	GasMarginPct    int    `yaml:"gas_margin_percent"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type User struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	FullName      string `yaml:"full_name"`
	Role          string `yaml:"role"` // staff, manager, admin
	WalletAddress string `yaml:"wallet_address,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Ledger.Network == "" {
		cfg.Ledger.Network = "testnet"
	}
	if cfg.Ledger.ConfirmTimeout == 0 {
		cfg.Ledger.ConfirmTimeout = 60
	}
	if cfg.Ledger.GasMarginPct < 20 {
		cfg.Ledger.GasMarginPct = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
