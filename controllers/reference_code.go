package controllers

import (
	"net/http"

	dbpkg "microbiz/db"
	"microbiz/services"

	"github.com/gin-gonic/gin"
)

type GenerateCodeInput struct {
	SessionID     string `json:"session_id" binding:"required"`
	PreferredCode string `json:"preferred_code"`
}

// POST /api/reference-codes
//
// Gera (ou força, via preferred_code) o reference code de uma sessão.
func GenerateReferenceCode(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	var input GenerateCodeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	code, err := services.GenerateCode(db, input.SessionID, input.PreferredCode)
	if err == services.ErrSessionNotFound {
		RespondError(c, "session not found or expired", http.StatusNotFound)
		return
	}
	if err == services.ErrInvalidCode {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	if err == services.ErrCodeCollision {
		RespondError(c, "could not allocate a unique reference code", http.StatusConflict)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"success": true, "reference_code": code})
}

// GET /api/reference-codes/:code/validate
//
// Checagem leve de vivacidade do código; sempre 200, o veredito vai no corpo.
func ValidateReferenceCode(c *gin.Context) {
	db := dbpkg.DBInstance(c)
	code := services.NormalizeCode(c.Param("code"))

	session, err := services.ResolveCode(db, code)
	if err == services.ErrSessionNotFound {
		RespondSuccess(c, gin.H{"valid": false, "reference_code": code})
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"valid":          true,
		"reference_code": code,
		"session_id":     session.SessionID,
		"current_step":   session.CurrentStep,
		"expires_at":     session.ReferenceCodeExpiresAt,
	})
}
