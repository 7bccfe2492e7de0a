package controllers

import (
	"microbiz/config"
	"microbiz/services"
	"microbiz/tools"

	"github.com/gin-gonic/gin"
)

var conf config.Configuration
var sender services.Sender

func SetConfigurations(configuration config.Configuration) {
	conf = configuration
	client := tools.WhatsAppClient{
		AccessToken:   configuration.WhatsApp.AccessToken,
		PhoneNumberID: configuration.WhatsApp.PhoneNumberID,
		ApiVersion:    configuration.WhatsApp.ApiVersion,
	}
	if client.AccessToken == "" {
		client = tools.NewWhatsAppClientFromEnv()
	}
	sender = client
}

// SetSender troca o canal de saída (usado nos testes).
func SetSender(s services.Sender) {
	sender = s
}

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(200, payload)
}
