package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// WhatsAppClient fala com a Cloud API. O envio é time-bounded e NUNCA pode
// segurar o ack do webhook de entrada: quem chama trata falha como log-and-drop.
type WhatsAppClient struct {
	AccessToken   string
	PhoneNumberID string
	ApiVersion    string

	// HTTPClient permite injetar transporte nos testes; default 10s.
	HTTPClient *http.Client
}

// NewWhatsAppClientFromEnv mantém o fallback por env para dev/ops.
func NewWhatsAppClientFromEnv() WhatsAppClient {
	return WhatsAppClient{
		AccessToken:   strings.TrimSpace(os.Getenv("WHATSAPP_ACCESS_TOKEN")),
		PhoneNumberID: strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_NUMBER_ID")),
		ApiVersion:    "v20.0",
	}
}

// SendText envia uma mensagem de texto, com no máximo UM retry síncrono.
// Depois disso a mensagem é descartada (não enfileirada) — o evento de
// entrada já conta como processado.
func (w WhatsAppClient) SendText(ctx context.Context, to string, text string) error {
	err := w.sendOnce(ctx, to, text)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return w.sendOnce(ctx, to, text)
}

func (w WhatsAppClient) sendOnce(ctx context.Context, to string, text string) error {
	if w.AccessToken == "" || w.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp access token or phone number id not set")
	}

	version := w.ApiVersion
	if version == "" {
		version = "v20.0"
	}
	url := fmt.Sprintf("https://graph.facebook.com/%s/%s/messages", version, w.PhoneNumberID)

	reqBody := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"body": text,
		},
	}

	b, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp api error: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}
