package models

import "time"

/************************************************
/**** MARK: CHANNELS ****/
/************************************************/
const CHANNEL_WEB = "web"
const CHANNEL_WHATSAPP = "whatsapp"
const CHANNEL_USSD = "ussd"
const CHANNEL_MOBILE_APP = "mobile_app"

/************************************************
/**** MARK: WIZARD STEPS ****/
/************************************************/
const STEP_PRODUCT = "product"
const STEP_FORM = "form"
const STEP_DOCUMENTS = "documents"
const STEP_SUMMARY = "summary"
const STEP_COMPLETED = "completed"

// Side-channel steps used only by the agent recruitment flow.
const STEP_AGENT_ID_UPLOAD = "agent_id_upload"
const STEP_AGENT_ID_BACK_UPLOAD = "agent_id_back_upload"

// Metadata keys written by the core (bookkeeping, not applicant data).
const META_STATUS = "status"
const META_PHONE_NUMBER = "phone_number"
const META_LAST_SYNC = "last_sync"
const META_SYNC_SOURCE = "sync_source"
const META_MERGED_FROM = "merged_from"
const META_FIELD_UPDATED_AT = "field_updated_at"

// ApplicationSession é a unidade durável de trabalho: uma aplicação de
// crédito/abertura de conta em progresso, possivelmente multi-dia e
// multi-canal. DeletedAt habilita o soft delete do gorm; a purga física
// (Unscoped) fica por conta do ReferenceCodeService e do worker de limpeza.
type ApplicationSession struct {
	ID                     int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	SessionID              string     `gorm:"not null;unique_index" json:"session_id"`
	Channel                string     `gorm:"not null;index" json:"channel"`
	UserIdentifier         string     `gorm:"index" json:"user_identifier"`
	CurrentStep            string     `gorm:"not null;default:'product'" json:"current_step"`
	FormData               JSONMap    `gorm:"type:jsonb" json:"form_data"`
	Metadata               JSONMap    `gorm:"type:jsonb" json:"metadata"`
	ReferenceCode          *string    `gorm:"unique_index" json:"reference_code"`
	ReferenceCodeExpiresAt *time.Time `json:"reference_code_expires_at"`
	ExpiresAt              *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt              *time.Time `json:"created_at"`
	UpdatedAt              *time.Time `json:"updated_at"`
	DeletedAt              *time.Time `sql:"index" json:"-"`
}

// wizardSteps define a ordem do fluxo principal. Steps de side-channel
// (upload de documento de agente) não participam da ordenação.
var wizardSteps = []string{STEP_PRODUCT, STEP_FORM, STEP_DOCUMENTS, STEP_SUMMARY, STEP_COMPLETED}

func IsValidStep(step string) bool {
	for _, s := range wizardSteps {
		if s == step {
			return true
		}
	}
	return step == STEP_AGENT_ID_UPLOAD || step == STEP_AGENT_ID_BACK_UPLOAD
}

// StepIndex devolve a posição do step no fluxo principal (-1 para side-channel).
func StepIndex(step string) int {
	for i, s := range wizardSteps {
		if s == step {
			return i
		}
	}
	return -1
}

func IsTerminalStep(step string) bool {
	return step == STEP_COMPLETED
}

// IsMediaStep indica se o step atual espera um anexo binário.
func IsMediaStep(step string) bool {
	return step == STEP_AGENT_ID_UPLOAD || step == STEP_AGENT_ID_BACK_UPLOAD || step == STEP_DOCUMENTS
}

func IsValidChannel(channel string) bool {
	switch channel {
	case CHANNEL_WEB, CHANNEL_WHATSAPP, CHANNEL_USSD, CHANNEL_MOBILE_APP:
		return true
	}
	return false
}

func (s *ApplicationSession) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

func (s *ApplicationSession) IsCompleted() bool {
	return s.CurrentStep == STEP_COMPLETED
}

// CodeExpired indica se o reference code do session expirou (expiração do
// código é independente da expiração do session).
func (s *ApplicationSession) CodeExpired(now time.Time) bool {
	return s.ReferenceCodeExpiresAt != nil && !s.ReferenceCodeExpiresAt.After(now)
}

func (s *ApplicationSession) Status() string {
	if st := s.Metadata.GetString(META_STATUS); st != "" {
		return st
	}
	return "pending"
}
