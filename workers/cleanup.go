package workers

import (
	"log"
	"time"

	"microbiz/models"

	"github.com/jinzhu/gorm"
)

// Ciclo de vida em duas fases:
//   retired: sessão expirada vira soft-deleted — some das consultas mas a
//            linha (e o unique index do reference code) continua no banco;
//   purged:  soft-deleted há mais de PURGE_AFTER é removida fisicamente,
//            liberando o código para reuso.
// A janela entre as fases existe para auditoria e para recuperação manual.
const PURGE_AFTER = 30 * 24 * time.Hour

const CLEANUP_INTERVAL = 1 * time.Hour

// StartCleanup starts a loop that retires expired sessions and purges stale rows.
func StartCleanup(db *gorm.DB) {
	go func() {
		ticker := time.NewTicker(CLEANUP_INTERVAL)
		defer ticker.Stop()

		runCleanup(db)
		for range ticker.C {
			runCleanup(db)
		}
	}()
}

func runCleanup(db *gorm.DB) {
	now := time.Now()

	// Fase 1: retire. Soft delete pelo escopo padrão do gorm.
	res := db.Where("expires_at <= ?", now).
		Delete(&models.ApplicationSession{})
	if res.Error != nil {
		log.Printf("cleanup worker: retire error: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("cleanup worker: retired %d expired sessions", res.RowsAffected)
	}

	// Fase 2: purge. Remove fisicamente o que já passou da janela de auditoria.
	res = db.Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", now.Add(-PURGE_AFTER)).
		Delete(&models.ApplicationSession{})
	if res.Error != nil {
		log.Printf("cleanup worker: purge error: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("cleanup worker: purged %d retired sessions", res.RowsAffected)
	}

	// Ledger de dedup: linhas vencidas não deduplicam mais nada.
	res = db.Where("expires_at <= ?", now).
		Delete(&models.InboundMessage{})
	if res.Error != nil {
		log.Printf("cleanup worker: dedup ledger error: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("cleanup worker: dropped %d stale inbound message records", res.RowsAffected)
	}
}
