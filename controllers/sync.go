package controllers

import (
	"net/http"

	dbpkg "microbiz/db"
	"microbiz/models"
	"microbiz/services"

	"github.com/gin-gonic/gin"
)

type SwitchToWhatsAppInput struct {
	SessionID   string `json:"session_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// POST /api/sync/switch-to-whatsapp
//
// Prepara a retomada de uma sessão web no WhatsApp: garante o reference code
// e devolve as instruções que o front mostra pro usuário mandar no chat.
func SwitchToWhatsApp(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	var input SwitchToWhatsAppInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	code, err := services.SwitchToWhatsApp(db, input.SessionID, input.PhoneNumber)
	if err == services.ErrSessionNotFound {
		RespondError(c, "session not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	RespondSuccess(c, gin.H{
		"success":        true,
		"reference_code": code,
		"instructions":   "Send 'resume " + code + "' to our WhatsApp number to continue your application.",
	})
}

type SwitchToWebInput struct {
	SessionID string `json:"session_id" binding:"required"`
}

// POST /api/sync/switch-to-web
//
// Cria (ou reusa, já sincronizada) a sessão web par de uma sessão WhatsApp.
func SwitchToWeb(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	var input SwitchToWebInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	session, err := services.SwitchToWeb(db, input.SessionID)
	if err == services.ErrSessionNotFound {
		RespondError(c, "session not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"success":      true,
		"session":      session,
		"current_step": session.CurrentStep,
		"form_data":    services.NormalizeDataForPlatform(session.FormData, models.CHANNEL_WEB),
	})
}

type SynchronizeInput struct {
	PrimarySessionID   string `json:"primary_session_id" binding:"required"`
	SecondarySessionID string `json:"secondary_session_id" binding:"required"`
}

// POST /api/sync/synchronize
func SynchronizeSessions(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	var input SynchronizeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	report, err := services.Synchronize(db, input.PrimarySessionID, input.SecondarySessionID)
	if err == services.ErrSessionNotFound {
		RespondError(c, "one of the sessions was not found or has expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"success": true, "report": report})
}

// GET /api/sync/status?session_id=...&other_session_id=...
func SyncStatus(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	id1 := c.Query("session_id")
	id2 := c.Query("other_session_id")
	if id1 == "" || id2 == "" {
		RespondError(c, "session_id and other_session_id are required", http.StatusBadRequest)
		return
	}

	report, err := services.SyncStatus(db, id1, id2)
	if err == services.ErrSessionNotFound {
		RespondError(c, "one of the sessions was not found or has expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"success": true, "status": report})
}
