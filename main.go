package main

import (
	"log"
	"os"

	"microbiz/config"
	"microbiz/controllers"
	"microbiz/db"
	"microbiz/router"
	"microbiz/services"
	"microbiz/workers"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := os.Getenv("CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg := config.Get(configPath)

	db.SetConfigurations(cfg)
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	services.SetConfigurations(cfg)
	controllers.SetConfigurations(cfg)

	r := gin.New()
	r.Use(db.SetDBtoContext(database))
	router.Initialize(r, cfg)

	workers.StartCleanup(database)

	log.Printf("Microbiz intake API listening on :%s", cfg.ApiPort)
	log.Fatal(r.Run(":" + cfg.ApiPort))
}
