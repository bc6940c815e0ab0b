package config

import (
	"github.com/spf13/viper"
)

// ApplyDefaults sets default configuration values in the provided Viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("api.base-url", "http://localhost:8000/api/v1")
	v.SetDefault("api.timeout", "30s")

	// Credential store
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "~/.stocker/token")
	v.SetDefault("store.seal-key", "")
	v.SetDefault("store.profile", "default")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "stocker")

	// Loopback listener for the external login redirect
	v.SetDefault("callback.addr", "127.0.0.1:8765")
	v.SetDefault("callback.path", "/auth/callback")

	v.SetDefault("guard.login-path", "/login")
	v.SetDefault("serve.addr", "127.0.0.1:8080")
	v.SetDefault("qr.color", "#69676e")
	v.SetDefault("log.verbose", false)
}
