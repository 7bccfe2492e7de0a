package services

import (
	"time"

	"microbiz/config"
)

// SetConfigurations aplica os knobs de política do config aos defaults do
// pacote. Valores zerados/ausentes mantêm o default compilado — os TTLs são
// política operacional, não contrato.
func SetConfigurations(cfg config.Configuration) {
	if d := cfg.Policy.SessionTTLDays; d > 0 {
		SESSION_TTL = time.Duration(d) * 24 * time.Hour
	}
	if d := cfg.Policy.CodeTTLDays; d > 0 {
		CODE_TTL = time.Duration(d) * 24 * time.Hour
	}
	if d := cfg.Policy.CodeExtendWindowDays; d > 0 {
		CODE_EXTEND_WINDOW = time.Duration(d) * 24 * time.Hour
	}
	if h := cfg.Policy.DedupTTLHours; h > 0 {
		DEDUP_TTL = time.Duration(h) * time.Hour
	}
}
