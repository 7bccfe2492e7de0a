package services

import (
	"context"
	"testing"

	"microbiz/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// testDB abre um sqlite em memória com o schema migrado. MaxOpenConns(1)
// porque cada conexão ":memory:" é um banco separado.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.DB().SetMaxOpenConns(1)
	db.LogMode(false)

	if err := db.AutoMigrate(
		&models.ApplicationSession{},
		&models.InboundMessage{},
		&models.ChannelLink{},
	).Error; err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// recorderSender captura as mensagens de saída em vez de falar com a Cloud API.
type recorderSender struct {
	to   []string
	sent []string
}

func (r *recorderSender) SendText(_ context.Context, to, text string) error {
	r.to = append(r.to, to)
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorderSender) last() string {
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}
