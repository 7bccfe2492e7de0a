package router

import (
	"log"

	"microbiz/config"
	"microbiz/controllers"
	"microbiz/middleware"

	"github.com/gin-gonic/gin"
)

// Initialize wires all routes and middlewares.
func Initialize(r *gin.Engine, cfg config.Configuration) {
	_ = cfg

	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")

	// Webhooks (WhatsApp Cloud API + provedor legado form-encoded).
	// Sem Logger(): o provedor reenvia agressivo e o log por request vira ruído.
	api.GET("/webhook", controllers.WebhookVerify)
	api.POST("/webhook", controllers.WebhookUpdate)
	api.POST("/webhook/legacy", controllers.LegacyWebhookUpdate)

	// Wizard web (autosave + leitura de estado)
	api.POST("/application/state", Logger(), controllers.SaveApplicationState)
	api.GET("/application/state/:sessionId", Logger(), controllers.GetApplicationState)
	api.GET("/application/status/:code", Logger(), controllers.ApplicationStatusByCode)

	// Retomada por code / national ID / session_id (rota pública do front)
	r.GET("/application/resume/:identifier", Logger(), controllers.ResumeApplication)

	// Reference codes
	api.POST("/reference-codes", Logger(), controllers.GenerateReferenceCode)
	api.GET("/reference-codes/:code/validate", Logger(), controllers.ValidateReferenceCode)

	// Cross-channel sync
	api.POST("/sync/switch-to-whatsapp", Logger(), controllers.SwitchToWhatsApp)
	api.POST("/sync/switch-to-web", Logger(), controllers.SwitchToWeb)
	api.POST("/sync/synchronize", Logger(), controllers.SynchronizeSessions)
	api.GET("/sync/status", Logger(), controllers.SyncStatus)

	log.Printf("Routes initialized")
}
