package main

import "time"

type Config struct {
	Host           string        `env:"HOST,default=localhost"`
	Port           int           `env:"PORT,default=8080"`
	BadgerFilepath string        `env:"BADGER_FILEPATH,required=true"`
	RedisAddr      string        `env:"REDIS_ADDR,required=true"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB,default=0"`
	AuthSecret     string        `env:"AUTH_SECRET,required=true"`
	LogLevel       string        `env:"LOG_LEVEL,required=true"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS"`
	MemberCacheTTL time.Duration `env:"MEMBER_CACHE_TTL,default=10m"`
	PresenceTTL    time.Duration `env:"PRESENCE_TTL,default=24h"`
}
