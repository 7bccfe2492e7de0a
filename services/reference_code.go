package services

import (
	"regexp"
	"strings"
	"time"

	"microbiz/models"
	"microbiz/tools"

	"github.com/jinzhu/gorm"
)

// Política de reference codes. Códigos são curtos de propósito (digitáveis
// num chat, ditáveis por telefone), então colisão é possível e o gerador
// OBRIGATORIAMENTE tenta de novo até achar um livre.
const CODE_LENGTH = 6
const CODE_MAX_ATTEMPTS = 25

// TTLs ajustáveis via config (SetConfigurations).
var CODE_TTL = 14 * 24 * time.Hour
var CODE_EXTEND_WINDOW = 5 * 24 * time.Hour

var codeShape = regexp.MustCompile(`^[A-Z0-9]{4,15}$`)

// NormalizeCode: uppercase, remove espaços e hífens. Input de usuário é
// case-insensitive e frequentemente vem com "AB12-CD" ou espaços.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(code)
	return code
}

// GenerateCode associa um código à sessão. Com preferredCode (ex.: código
// liberado por um cadastro de abertura de conta convertido), qualquer sessão
// que ainda ocupe o código é hard-deleted antes da atribuição — um código
// nunca pode resolver para a ocupante antiga. Sem preferredCode, sorteia
// códigos de 6 chars até achar um livre.
func GenerateCode(db *gorm.DB, sessionID string, preferredCode string) (string, error) {
	session, err := GetSession(db, sessionID)
	if err != nil {
		return "", err
	}

	if preferredCode != "" {
		code := NormalizeCode(preferredCode)
		if !codeShape.MatchString(code) {
			return "", ErrInvalidCode
		}
		// Libera o código: inclui linhas soft-deleted, que ainda seguram o
		// unique index fisicamente.
		err := db.Unscoped().
			Where("reference_code = ? AND session_id <> ?", code, session.SessionID).
			Delete(&models.ApplicationSession{}).Error
		if err != nil {
			return "", err
		}
		return code, assignCode(db, session, code)
	}

	for attempt := 0; attempt < CODE_MAX_ATTEMPTS; attempt++ {
		code := tools.RandomCode(CODE_LENGTH)

		var count int
		err := db.Unscoped().Model(&models.ApplicationSession{}).
			Where("reference_code = ?", code).
			Count(&count).Error
		if err != nil {
			return "", err
		}
		if count > 0 {
			continue
		}

		if err := assignCode(db, session, code); err != nil {
			if isUniqueViolation(err) {
				continue // corrida com outro generate; sorteia de novo
			}
			return "", err
		}
		return code, nil
	}
	return "", ErrCodeCollision
}

func assignCode(db *gorm.DB, session *models.ApplicationSession, code string) error {
	expires := time.Now().Add(CODE_TTL)
	return db.Model(session).Updates(map[string]interface{}{
		"reference_code":            code,
		"reference_code_expires_at": expires,
	}).Error
}

// ResolveCode devolve a sessão viva dona do código. Rejeita códigos de
// sessões soft-deleted ou expiradas mesmo que a linha ainda exista
// fisicamente, e códigos cuja própria validade passou.
func ResolveCode(db *gorm.DB, code string) (*models.ApplicationSession, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrSessionNotFound
	}

	var session models.ApplicationSession
	err := db.Where("reference_code = ?", code).
		Where("expires_at > ?", time.Now()).
		First(&session).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if session.CodeExpired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// ValidateCode: checagem pura de existência+vivacidade, usada pelos ramos
// conversacionais de "esse código existe?".
func ValidateCode(db *gorm.DB, code string) bool {
	_, err := ResolveCode(db, code)
	return err == nil
}

// ExtendCode empurra a validade do código para frente quando a sessão é
// retomada perto do vencimento — evita que o código de um usuário ativo
// expire no meio do uso. Devolve true se estendeu.
func ExtendCode(db *gorm.DB, code string) (bool, error) {
	session, err := ResolveCode(db, code)
	if err != nil {
		return false, err
	}
	if session.ReferenceCodeExpiresAt == nil {
		return false, nil
	}
	if time.Until(*session.ReferenceCodeExpiresAt) >= CODE_EXTEND_WINDOW {
		return false, nil
	}
	expires := time.Now().Add(CODE_TTL)
	err = db.Model(session).Update("reference_code_expires_at", expires).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// CodeStatus é o resumo devolvido para consultas de status por código.
type CodeStatus struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"current_step"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func StatusByCode(db *gorm.DB, code string) (*CodeStatus, error) {
	session, err := ResolveCode(db, code)
	if err != nil {
		return nil, err
	}
	return &CodeStatus{
		SessionID:   session.SessionID,
		Status:      session.Status(),
		CurrentStep: session.CurrentStep,
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   session.UpdatedAt,
	}, nil
}
