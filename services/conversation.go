package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"microbiz/models"

	"github.com/jinzhu/gorm"
)

// Sender envia a resposta de volta pelo canal (WhatsApp Cloud API em
// produção; fake nos testes). Falha de envio é logada e descartada — o
// webhook de entrada já foi confirmado e não volta atrás.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

/************************************************
/**** MARK: COMMAND CLASSIFICATION ****/
/************************************************/

// Comandos privilegiados interceptados ANTES do fluxo geral de conversa.
// Enum fechado (em vez de if/regex encadeado no handler) para deixar a
// precedência explícita e testável sem webhook vivo.
const CMD_RESUME = "resume"
const CMD_STATUS = "status"
const CMD_BARE_CODE = "bare_code"
const CMD_FREE_TEXT = "free_text"

type Command struct {
	Kind string
	Code string
	Text string
}

var (
	resumeRe = regexp.MustCompile(`^(?i)resume\s+([a-z0-9]{6,15})$`)
	statusRe = regexp.MustCompile(`^(?i)status\s+([a-z0-9]{6,15})$`)
	// Código solto: 6 chars (reference code) ou 8-15 (national ID). Exige
	// pelo menos um dígito e uma letra para não disparar em palavra comum
	// ("thanks", "hello"...).
	bareCodeRe = regexp.MustCompile(`^[A-Za-z0-9]{6}$|^[A-Za-z0-9]{8,15}$`)
	hasDigit   = regexp.MustCompile(`[0-9]`)
	hasLetter  = regexp.MustCompile(`[A-Za-z]`)
)

// ClassifyText mapeia o texto cru num comando. Precedência: resume > status >
// código solto > texto livre.
func ClassifyText(body string) Command {
	text := strings.TrimSpace(body)

	if m := resumeRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: CMD_RESUME, Code: NormalizeCode(m[1])}
	}
	if m := statusRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: CMD_STATUS, Code: NormalizeCode(m[1])}
	}
	if bareCodeRe.MatchString(text) && hasDigit.MatchString(text) && hasLetter.MatchString(text) {
		return Command{Kind: CMD_BARE_CODE, Code: NormalizeCode(text)}
	}
	return Command{Kind: CMD_FREE_TEXT, Text: text}
}

/************************************************
/**** MARK: INBOUND DISPATCH ****/
/************************************************/

// ProcessInboundText trata uma mensagem de texto já deduplicada. Comandos de
// reference code respondem direto; o resto segue o fluxo do wizard.
func ProcessInboundText(ctx context.Context, db *gorm.DB, sender Sender, from, body string) error {
	cmd := ClassifyText(body)

	switch cmd.Kind {
	case CMD_RESUME:
		return handleResume(ctx, db, sender, from, cmd.Code)
	case CMD_STATUS:
		return handleStatus(ctx, db, sender, from, cmd.Code)
	case CMD_BARE_CODE:
		if ValidateCode(db, cmd.Code) {
			return handleResume(ctx, db, sender, from, cmd.Code)
		}
		reply(ctx, sender, from, invalidCodeMessage(cmd.Code))
		return nil
	}

	return handleFreeText(ctx, db, sender, from, cmd.Text)
}

// ProcessInboundMedia trata anexos binários. Só aceita quando o step atual
// espera upload; fora disso responde orientação em vez de guardar em
// silêncio.
func ProcessInboundMedia(ctx context.Context, db *gorm.DB, sender Sender, from, mediaURL string) error {
	session, err := RetrieveByAddress(db, models.CHANNEL_WHATSAPP, from)
	if err == ErrSessionNotFound {
		reply(ctx, sender, from, "Please start a conversation first by sending 'Hi' or 'Hello'.")
		return nil
	}
	if err != nil {
		return err
	}

	if !models.IsMediaStep(session.CurrentStep) {
		reply(ctx, sender, from, "I wasn't expecting a photo right now. Please continue with the conversation.")
		return nil
	}
	if mediaURL == "" {
		reply(ctx, sender, from, "Sorry, I couldn't receive your photo. Please try sending it again.")
		return nil
	}

	var nextStep, message string
	formData := session.FormData.Copy()

	switch session.CurrentStep {
	case models.STEP_AGENT_ID_UPLOAD:
		formData["id_front_url"] = mediaURL
		nextStep = models.STEP_AGENT_ID_BACK_UPLOAD
		message = "Front of ID received!\n\nNow please send a clear photo of the *back* of your ID card."
	case models.STEP_AGENT_ID_BACK_UPLOAD:
		formData["id_back_url"] = mediaURL
		nextStep = models.STEP_COMPLETED
		message = "Application submitted successfully! We will review it and get back to you soon."
	default: // documents
		docs, _ := formData["documents"].([]interface{})
		formData["documents"] = append(docs, mediaURL)
		nextStep = models.STEP_SUMMARY
		message = "Document received. Here's a summary of your application — reply 'confirm' to submit."
	}

	_, err = UpdateSession(db, session.SessionID, StatePatch{
		CurrentStep: &nextStep,
		FormData:    formData,
	})
	if err != nil {
		return err
	}
	reply(ctx, sender, from, message)
	return nil
}

func handleResume(ctx context.Context, db *gorm.DB, sender Sender, from, code string) error {
	session, err := ResolveCode(db, code)
	if err == ErrSessionNotFound {
		reply(ctx, sender, from, invalidCodeMessage(code))
		return nil
	}
	if err != nil {
		return err
	}

	if session.IsCompleted() {
		reply(ctx, sender, from, fmt.Sprintf(
			"Your application %s is already completed and under review. Type 'status %s' anytime to check progress.",
			code, code))
		return nil
	}

	// Mantém o código vivo durante o uso e prende o endereço do remetente à
	// sessão retomada, para o texto livre seguinte continuar dela.
	if _, err := ExtendCode(db, code); err != nil && err != ErrSessionNotFound {
		return err
	}
	if err := LinkAddress(db, models.CHANNEL_WHATSAPP, from, session.SessionID); err != nil {
		return err
	}
	if _, err := UpdateSession(db, session.SessionID, StatePatch{
		Metadata: models.JSONMap{models.META_PHONE_NUMBER: from},
	}); err != nil {
		return err
	}

	reply(ctx, sender, from, fmt.Sprintf(
		"Welcome back! Resuming your application %s.\nYou are at the '%s' step.\n\n%s",
		code, session.CurrentStep, stepPrompt(session.CurrentStep)))
	return nil
}

func handleStatus(ctx context.Context, db *gorm.DB, sender Sender, from, code string) error {
	status, err := StatusByCode(db, code)
	if err == ErrSessionNotFound {
		reply(ctx, sender, from, invalidCodeMessage(code))
		return nil
	}
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("*Application Status*\nReference Code: %s\nStatus: %s\nCurrent step: %s",
		code, status.Status, status.CurrentStep)
	if status.CurrentStep != models.STEP_COMPLETED {
		msg += fmt.Sprintf("\n\nType 'resume %s' to continue where you left off.", code)
	}
	reply(ctx, sender, from, msg)
	return nil
}

func handleFreeText(ctx context.Context, db *gorm.DB, sender Sender, from, text string) error {
	session, err := RetrieveByAddress(db, models.CHANNEL_WHATSAPP, from)
	if err == ErrSessionNotFound {
		// Começa do zero: sessão nova presa ao endereço do remetente.
		session, err = CreateSession(db, models.CHANNEL_WHATSAPP, models.STEP_PRODUCT, nil,
			models.JSONMap{models.META_PHONE_NUMBER: from})
		if err != nil {
			return err
		}
		if err := LinkAddress(db, models.CHANNEL_WHATSAPP, from, session.SessionID); err != nil {
			return err
		}
		reply(ctx, sender, from, "Welcome! Let's start your application.\n\n"+stepPrompt(session.CurrentStep))
		return nil
	}
	if err != nil {
		return err
	}

	if session.IsCompleted() {
		reply(ctx, sender, from, "Your application is already completed. Type 'status <code>' to check progress or 'start' for a new one.")
		return nil
	}

	// Guarda a resposta sob o step atual e avança no fluxo principal.
	formData := session.FormData.Copy()
	responses, _ := formData["formResponses"].(map[string]interface{})
	if responses == nil {
		responses = map[string]interface{}{}
	}
	responses[session.CurrentStep] = text
	formData["formResponses"] = responses

	next := nextStep(session.CurrentStep)
	_, err = UpdateSession(db, session.SessionID, StatePatch{
		CurrentStep: &next,
		FormData:    formData,
	})
	if err != nil {
		return err
	}
	reply(ctx, sender, from, stepPrompt(next))
	return nil
}

func nextStep(current string) string {
	idx := models.StepIndex(current)
	if idx < 0 {
		return current // steps de side-channel avançam só por media
	}
	switch current {
	case models.STEP_PRODUCT:
		return models.STEP_FORM
	case models.STEP_FORM:
		return models.STEP_DOCUMENTS
	case models.STEP_DOCUMENTS:
		return models.STEP_SUMMARY
	case models.STEP_SUMMARY:
		return models.STEP_COMPLETED
	}
	return current
}

func stepPrompt(step string) string {
	switch step {
	case models.STEP_PRODUCT:
		return "Which product would you like to apply for? Reply with the product name."
	case models.STEP_FORM:
		return "Please answer the application questions. What is your full name and national ID number?"
	case models.STEP_DOCUMENTS:
		return "Please send a photo of your supporting documents."
	case models.STEP_SUMMARY:
		return "Almost done! Reply 'confirm' to submit your application."
	case models.STEP_COMPLETED:
		return "Your application has been submitted and is being reviewed. You'll hear from us soon!"
	case models.STEP_AGENT_ID_UPLOAD:
		return "Please send a clear photo of the *front* of your ID card."
	case models.STEP_AGENT_ID_BACK_UPLOAD:
		return "Please send a clear photo of the *back* of your ID card."
	}
	return "Please continue with your application."
}

func invalidCodeMessage(code string) string {
	return fmt.Sprintf("*Invalid Reference Code*\n\nThe reference code '%s' is not valid or has expired.\n\n"+
		"Valid commands:\n- 'resume XXXXXX' to continue an application\n- 'status XXXXXX' to check progress\n- 'start' for a new application", code)
}

// SendApology avisa o usuário que algo deu errado no processamento. Mesmo
// contrato do reply: best-effort, nunca propaga erro.
func SendApology(ctx context.Context, sender Sender, to string) {
	reply(ctx, sender, to, "Sorry, something went wrong on our side. Please try again in a moment.")
}

// reply faz o envio best-effort: falha vira log, nunca erro pro chamador —
// a resposta de saída e o ack do webhook são operações desacopladas.
func reply(ctx context.Context, sender Sender, to, text string) {
	if sender == nil {
		return
	}
	if err := sender.SendText(ctx, to, text); err != nil {
		log.Printf("conversation: send to %s failed: %v", to, err)
	}
}
