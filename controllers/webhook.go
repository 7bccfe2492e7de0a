package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	dbpkg "microbiz/db"
	"microbiz/models"
	"microbiz/services"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// Envelope da Cloud API. Só os campos que importam pro ingress.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string            `json:"messaging_product"`
				Messages         []CloudAPIMessage `json:"messages"`
				Statuses         []CloudAPIStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type CloudAPIMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string                `json:"type"`
		ButtonReply *CloudAPIOptionReply  `json:"button_reply,omitempty"`
		ListReply   *CloudAPIOptionReply  `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Image    *CloudAPIMedia `json:"image,omitempty"`
	Document *CloudAPIMedia `json:"document,omitempty"`
}

type CloudAPIOptionReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type CloudAPIMedia struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

type CloudAPIStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

func verifyToken() string {
	if conf.Webhook.VerifyToken != "" {
		return conf.Webhook.VerifyToken
	}
	return os.Getenv("WEBHOOK_VERIFY_TOKEN")
}

func appSecret() string {
	if conf.Webhook.AppSecret != "" {
		return conf.Webhook.AppSecret
	}
	return os.Getenv("WEBHOOK_APP_SECRET")
}

// verifyMetaSignature valida o HMAC do corpo contra o app secret.
// Header: X-Hub-Signature-256: sha256=<hex>
func verifyMetaSignature(header string, body []byte, secret string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// GET /api/webhook
//
// Handshake de verificação da Cloud API:
// GET /webhook?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
// Responde 200 com o challenge sse o token bater.
func WebhookVerify(c *gin.Context) {
	token := verifyToken()
	if token == "" {
		RespondError(c, "webhook verify token not set", http.StatusInternalServerError)
		return
	}

	mode := c.Query("hub.mode")
	challenge := c.Query("hub.challenge")
	provided := c.Query("hub.verify_token")

	if mode == "subscribe" && challenge != "" &&
		subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
		c.String(http.StatusOK, "%s", challenge)
		return
	}

	RespondError(c, "forbidden", http.StatusForbidden)
}

// POST /api/webhook
//
// Entrega é at-least-once: todo erro recuperável aqui vira 200 + log, senão
// o provedor tempesteia retries de uma mensagem envenenada.
func WebhookUpdate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("webhook: read body: %v", err)
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	// Com app secret configurado, corpo sem HMAC válido não é tráfego do
	// provedor: 401, junto com o handshake a única resposta não-200 do webhook.
	if secret := appSecret(); secret != "" {
		if !verifyMetaSignature(c.GetHeader("X-Hub-Signature-256"), body, secret) {
			RespondError(c, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		// Nunca 5xx pro provedor; loga e confirma.
		log.Printf("webhook: db not configured in context")
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("webhook: invalid payload: %v", err)
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	// Confirma rápido; o envio da resposta é desacoplado do ack.
	c.String(http.StatusOK, "EVENT_RECEIVED")

	processCloudAPIPayload(db, payload)
}

func processCloudAPIPayload(db *gorm.DB, payload WebhookPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				// Recibos de entrega/leitura não tocam estado de sessão.
				log.Printf("webhook: message %s to %s status: %s", st.ID, st.RecipientID, st.Status)
			}

			for _, m := range change.Value.Messages {
				from := strings.TrimSpace(m.From)
				if from == "" {
					log.Printf("webhook: message %s without sender, skipping", m.ID)
					continue
				}

				// Dedup ANTES de processar: o retry colide no ledger e é
				// confirmado sem efeito colateral.
				err := services.RecordInbound(db, m.ID, models.PROVIDER_CLOUD_API, from)
				if err == services.ErrDuplicateEvent {
					log.Printf("webhook: duplicate message %s, acknowledged", m.ID)
					continue
				}
				if err != nil {
					log.Printf("webhook: dedup check failed for %s: %v", m.ID, err)
					continue
				}

				if err := dispatchCloudAPIMessage(ctx, db, from, m); err != nil {
					log.Printf("webhook: error processing message %s: %v", m.ID, err)
					services.SendApology(ctx, sender, from)
				}
			}
		}
	}
}

func dispatchCloudAPIMessage(ctx context.Context, db *gorm.DB, from string, m CloudAPIMessage) error {
	switch strings.ToLower(m.Type) {
	case "text":
		body := ""
		if m.Text != nil {
			body = m.Text.Body
		}
		return services.ProcessInboundText(ctx, db, sender, from, body)

	case "interactive":
		// Resposta de botão/lista vira texto: o id da opção é a resposta.
		body := ""
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				body = m.Interactive.ButtonReply.ID
			} else if m.Interactive.ListReply != nil {
				body = m.Interactive.ListReply.ID
			}
		}
		return services.ProcessInboundText(ctx, db, sender, from, body)

	case "image", "document":
		mediaURL := ""
		if m.Image != nil {
			mediaURL = m.Image.Link
			if mediaURL == "" {
				mediaURL = "media:" + m.Image.ID
			}
		} else if m.Document != nil {
			mediaURL = m.Document.Link
			if mediaURL == "" {
				mediaURL = "media:" + m.Document.ID
			}
		}
		return services.ProcessInboundMedia(ctx, db, sender, from, mediaURL)
	}

	log.Printf("webhook: ignoring message type %q from %s", m.Type, from)
	return nil
}
