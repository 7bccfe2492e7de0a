package config

import (
	"encoding/json"
	"log"
	"os"
)

type Configuration struct {
	ApiPort string `json:"api_port"`
	LogPath string `json:"log_path"`

	Database string `json:"database"` // "sqlite3" ou "postgres"
	DbHost   string `json:"db_host"`
	DbPort   string `json:"db_port"`
	DbUser   string `json:"db_user"`
	DbName   string `json:"db_name"`
	DbPass   string `json:"db_pass"`

	Webhook struct {
		VerifyToken string `json:"verify_token"`
		AppSecret   string `json:"app_secret"`
	} `json:"webhook"`

	WhatsApp struct {
		AccessToken   string `json:"access_token"`
		PhoneNumberID string `json:"phone_number_id"`
		ApiVersion    string `json:"api_version"`
	} `json:"whatsapp"`

	// Policy knobs for session/code lifetimes. Operational defaults,
	// not hard contracts.
	Policy struct {
		SessionTTLDays       int `json:"session_ttl_days"`
		CodeTTLDays          int `json:"code_ttl_days"`
		CodeExtendWindowDays int `json:"code_extend_window_days"`
		DedupTTLHours        int `json:"dedup_ttl_hours"`
	} `json:"policy"`
}

func Get(path string) Configuration {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	var c Configuration
	if err := json.Unmarshal(b, &c); err != nil {
		log.Fatal(err)
	}

	// defaults (pra evitar nil/zero chato)
	if c.ApiPort == "" {
		c.ApiPort = "8080"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/server.log"
	}
	if c.Database == "" {
		c.Database = "sqlite3"
	}
	if c.WhatsApp.ApiVersion == "" {
		c.WhatsApp.ApiVersion = "v20.0"
	}
	if c.Policy.SessionTTLDays <= 0 {
		c.Policy.SessionTTLDays = 30
	}
	if c.Policy.CodeTTLDays <= 0 {
		c.Policy.CodeTTLDays = 14
	}
	if c.Policy.CodeExtendWindowDays <= 0 {
		c.Policy.CodeExtendWindowDays = 5
	}
	if c.Policy.DedupTTLHours <= 0 {
		c.Policy.DedupTTLHours = 24
	}

	return c
}
