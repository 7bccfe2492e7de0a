package controllers

import (
	"log"
	"net/http"
	"regexp"

	dbpkg "microbiz/db"
	"microbiz/models"
	"microbiz/services"

	"github.com/gin-gonic/gin"
)

// Payload de save do wizard web. session_id vazio cria sessão nova.
type SaveStateInput struct {
	SessionID      string         `json:"session_id"`
	Channel        string         `json:"channel"`
	CurrentStep    string         `json:"current_step"`
	UserIdentifier string         `json:"user_identifier"`
	FormData       models.JSONMap `json:"form_data"`
	Metadata       models.JSONMap `json:"metadata"`
}

// Identificador de retomada: reference code (6 chars com dígito) ou
// national ID (8-15 alfanuméricos). Fora disso trata como session_id.
var resumeCodeShape = regexp.MustCompile(`^[A-Za-z0-9]{6}$|^[A-Za-z0-9]{8,15}$`)

// POST /api/application/state
//
// Autosave do wizard: cria ou atualiza a sessão e devolve o estado
// resultante. O front chama a cada step, então o handler é idempotente
// sobre o mesmo conteúdo.
func SaveApplicationState(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	var input SaveStateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	if input.SessionID == "" {
		channel := input.Channel
		if channel == "" {
			channel = models.CHANNEL_WEB
		}
		step := input.CurrentStep
		if step == "" {
			step = models.STEP_PRODUCT
		}
		session, err := services.CreateSession(db, channel, step, input.FormData, input.Metadata)
		if err != nil {
			RespondError(c, err.Error(), http.StatusBadRequest)
			return
		}
		if input.UserIdentifier != "" {
			session, err = services.UpdateSession(db, session.SessionID,
				services.StatePatch{UserIdentifier: &input.UserIdentifier})
			if err != nil {
				RespondError(c, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		RespondSuccess(c, gin.H{"success": true, "session": session})
		return
	}

	patch := services.StatePatch{
		FormData: input.FormData,
		Metadata: input.Metadata,
	}
	if input.UserIdentifier != "" {
		patch.UserIdentifier = &input.UserIdentifier
	}
	if input.CurrentStep != "" {
		step := input.CurrentStep
		patch.CurrentStep = &step
	}

	session, err := services.UpdateSession(db, input.SessionID, patch)
	if err == services.ErrSessionNotFound {
		RespondError(c, "session not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, gin.H{"success": true, "session": session})
}

// GET /api/application/state/:sessionId
func GetApplicationState(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	session, err := services.GetSession(db, c.Param("sessionId"))
	if err == services.ErrSessionNotFound {
		RespondError(c, "session not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"success": true, "session": session})
}

// GET /application/resume/:identifier
//
// Entrada de retomada do wizard web: aceita reference code, national ID já
// usado como user_identifier, ou o próprio session_id. Devolve o estado já
// normalizado para o formato web e, quando a sessão tem um par de outro
// canal, o relatório de sincronização.
func ResumeApplication(c *gin.Context) {
	db := dbpkg.DBInstance(c)
	identifier := c.Param("identifier")

	session := resolveResumeIdentifier(c, identifier)
	if session == nil {
		RespondError(c, "no active application found for this identifier", http.StatusNotFound)
		return
	}

	// Retomada perto do vencimento estende a validade do código; falha aqui
	// não impede a retomada.
	if session.ReferenceCode != nil {
		if _, err := services.ExtendCode(db, *session.ReferenceCode); err != nil && err != services.ErrSessionNotFound {
			log.Printf("resume: extend code for %s failed: %v", session.SessionID, err)
		}
	}

	resp := gin.H{
		"success":        true,
		"session_id":     session.SessionID,
		"channel":        session.Channel,
		"current_step":   session.CurrentStep,
		"form_data":      services.NormalizeDataForPlatform(session.FormData, models.CHANNEL_WEB),
		"reference_code": session.ReferenceCode,
	}

	// Sessão vinda do WhatsApp informa o par para o front decidir sincronizar.
	if waID := session.Metadata.GetString("created_from_whatsapp"); waID != "" {
		if report, err := services.SyncStatus(db, session.SessionID, waID); err == nil {
			resp["sync_status"] = report
		}
	}

	RespondSuccess(c, resp)
}

func resolveResumeIdentifier(c *gin.Context, identifier string) *models.ApplicationSession {
	db := dbpkg.DBInstance(c)

	if resumeCodeShape.MatchString(identifier) {
		if session, err := services.ResolveCode(db, identifier); err == nil {
			return session
		}
		// national ID cadastrado como user_identifier
		if session, err := services.RetrieveByIdentifier(db, identifier); err == nil {
			return session
		}
	}

	session, err := services.GetSession(db, identifier)
	if err != nil {
		return nil
	}
	return session
}

// GET /api/application/status/:code
func ApplicationStatusByCode(c *gin.Context) {
	db := dbpkg.DBInstance(c)

	status, err := services.StatusByCode(db, c.Param("code"))
	if err == services.ErrSessionNotFound {
		RespondError(c, "invalid or expired reference code", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"success": true, "status": status})
}
