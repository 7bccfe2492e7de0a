package services

import (
	"strings"
	"time"

	"microbiz/models"

	"github.com/jinzhu/gorm"
)

// DEDUP_TTL é a vida útil de um registro de deduplicação. Ajustável via
// config (SetConfigurations).
var DEDUP_TTL = 24 * time.Hour

// RecordInbound grava o message_id ANTES de qualquer processamento
// (record-then-process). O unique_index em message_id faz o papel de
// check-and-set atômico: a segunda gravação do mesmo id falha no índice e
// vira ErrDuplicateEvent, mesmo que o retry chegue no meio do processamento
// do original.
func RecordInbound(db *gorm.DB, messageID, provider, channelAddress string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		// Sem id de provedor não há como deduplicar; processa mesmo assim.
		return nil
	}

	expires := time.Now().Add(DEDUP_TTL)
	msg := models.InboundMessage{
		MessageID:      messageID,
		Provider:       provider,
		ChannelAddress: channelAddress,
		ExpiresAt:      &expires,
	}

	if err := db.Create(&msg).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// isUniqueViolation cobre postgres ("duplicate key") e sqlite3 ("UNIQUE
// constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "Duplicate entry")
}
