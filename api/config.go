package api

import "crypto"

type ServerConfig struct {
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Audit string
}

type AuthConfig struct {
	PrivateKey crypto.Signer
	Issuer     string
	Audience   string
}
