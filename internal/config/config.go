package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	InventoryURL            string
	InventoryTimeoutSeconds int
	CampaignCacheTTLSeconds int
	ReturnWindowDays        int
	AuthSecret              string
	AccessTokenTTLMinutes   int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	invTimeout, err := strconv.Atoi(getEnv("INVENTORY_TIMEOUT_SECONDS", "5"))
	if err != nil || invTimeout < 1 {
		invTimeout = 5
	}
	cacheTTL, err := strconv.Atoi(getEnv("CAMPAIGN_CACHE_TTL_SECONDS", "30"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 30
	}
	returnWindow, err := strconv.Atoi(getEnv("RETURN_WINDOW_DAYS", "14"))
	if err != nil || returnWindow < 1 {
		returnWindow = 14
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		InventoryURL:            strings.TrimSpace(os.Getenv("INVENTORY_URL")),
		InventoryTimeoutSeconds: invTimeout,
		CampaignCacheTTLSeconds: cacheTTL,
		ReturnWindowDays:        returnWindow,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
