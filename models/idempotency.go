package models

import "time"

/************************************************
/**** MARK: WEBHOOK PROVIDERS ****/
/************************************************/
const PROVIDER_CLOUD_API = "cloud_api"
const PROVIDER_LEGACY = "legacy"

// InboundMessage é o ledger de idempotência: um registro por message_id de
// provedor já observado. O insert com unique_index é o check-and-set atômico —
// gravamos ANTES de processar, então um retry que chegue no meio do
// processamento colide no índice e é descartado. Linhas expiram em 24h e são
// purgadas pelo worker de limpeza; nunca são atualizadas.
type InboundMessage struct {
	ID             int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	MessageID      string     `gorm:"not null;unique_index" json:"message_id"`
	Provider       string     `gorm:"not null;default:'cloud_api'" json:"provider"`
	ChannelAddress string     `gorm:"index" json:"channel_address"`
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt      *time.Time `json:"created_at"`
}
