package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	dbpkg "microbiz/db"
	"microbiz/models"
	"microbiz/services"

	"github.com/gin-gonic/gin"
)

// POST /api/webhook/legacy
//
// Ingress do provedor legado (form-encoded, estilo Twilio): From, Body,
// NumMedia, MediaUrl0..N, MessageSid. Mesmo pipeline do Cloud API depois da
// extração: dedup pelo MessageSid, despacho, sempre 200 para o provedor.
// Única exceção: requisição sem From é malformada de verdade e leva 400.
func LegacyWebhookUpdate(c *gin.Context) {
	from := strings.TrimSpace(c.PostForm("From"))
	if from == "" {
		RespondError(c, "missing From", http.StatusBadRequest)
		return
	}
	// Prefixo "whatsapp:+2637..." do provedor legado.
	from = strings.TrimPrefix(from, "whatsapp:")
	from = strings.TrimPrefix(from, "+")

	body := c.PostForm("Body")
	messageSid := strings.TrimSpace(c.PostForm("MessageSid"))

	numMedia := 0
	if n, err := strconv.Atoi(c.PostForm("NumMedia")); err == nil && n > 0 {
		numMedia = n
	}
	var mediaURLs []string
	for i := 0; i < numMedia; i++ {
		if u := strings.TrimSpace(c.PostForm(fmt.Sprintf("MediaUrl%d", i))); u != "" {
			mediaURLs = append(mediaURLs, u)
		}
	}

	c.String(http.StatusOK, "OK")

	db := dbpkg.DBInstance(c)
	if db == nil {
		log.Printf("legacy webhook: db not configured in context")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := services.RecordInbound(db, messageSid, models.PROVIDER_LEGACY, from)
	if err == services.ErrDuplicateEvent {
		log.Printf("legacy webhook: duplicate message %s, acknowledged", messageSid)
		return
	}
	if err != nil {
		log.Printf("legacy webhook: dedup check failed for %s: %v", messageSid, err)
		return
	}

	if len(mediaURLs) > 0 {
		for _, u := range mediaURLs {
			if err := services.ProcessInboundMedia(ctx, db, sender, from, u); err != nil {
				log.Printf("legacy webhook: error processing media from %s: %v", from, err)
				services.SendApology(ctx, sender, from)
				return
			}
		}
		return
	}

	if err := services.ProcessInboundText(ctx, db, sender, from, body); err != nil {
		log.Printf("legacy webhook: error processing message %s: %v", messageSid, err)
		services.SendApology(ctx, sender, from)
	}
}
