package models

import "time"

// ChannelLink mapeia (channel, channel_address) -> session_id. Sessões
// endereçadas por canal (ex.: WhatsApp por telefone) passam por aqui em vez
// de derivar o session_id do número — reformatação de endereço não pode
// orfanar sessões.
type ChannelLink struct {
	ID             int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	Channel        string     `gorm:"not null;unique_index:idx_channel_address" json:"channel"`
	ChannelAddress string     `gorm:"not null;unique_index:idx_channel_address" json:"channel_address"`
	SessionID      string     `gorm:"not null;index" json:"session_id"`
	CreatedAt      *time.Time `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}
