package services

import (
	"time"

	"microbiz/models"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
)

// SESSION_TTL é a validade padrão de uma sessão. Depois disso a retomada é
// recusada em qualquer canal. Ajustável via config (SetConfigurations).
var SESSION_TTL = 30 * 24 * time.Hour

// StatePatch é um update parcial de sessão. Campos nil não são tocados.
// A política é last-writer-wins no nível do documento — merge campo a campo
// é responsabilidade exclusiva do sync service.
type StatePatch struct {
	CurrentStep    *string
	UserIdentifier *string
	FormData       models.JSONMap
	Metadata       models.JSONMap
}

// CreateSession aloca um session_id novo (nunca reutilizado) e persiste.
func CreateSession(db *gorm.DB, channel, initialStep string, formData, metadata models.JSONMap) (*models.ApplicationSession, error) {
	if !models.IsValidChannel(channel) {
		channel = models.CHANNEL_WEB
	}
	if !models.IsValidStep(initialStep) {
		initialStep = models.STEP_PRODUCT
	}
	if formData == nil {
		formData = models.JSONMap{}
	}
	if metadata == nil {
		metadata = models.JSONMap{}
	}

	expires := time.Now().Add(SESSION_TTL)
	session := models.ApplicationSession{
		SessionID:   channel + "_" + uuid.New().String(),
		Channel:     channel,
		CurrentStep: initialStep,
		FormData:    formData,
		Metadata:    stampFormFields(metadata, formData, nil),
		ExpiresAt:   &expires,
	}

	if err := db.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession exclui soft-deleted (escopo padrão do gorm) e expiradas.
func GetSession(db *gorm.DB, sessionID string) (*models.ApplicationSession, error) {
	var session models.ApplicationSession
	err := db.Where("session_id = ?", sessionID).
		Where("expires_at > ?", time.Now()).
		First(&session).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession aplica um patch parcial. Invariantes:
//   - channel nunca muda por update (apenas pela operação de switch);
//   - current_step == completed é terminal: o step não regride e o form_data
//     só aceita chaves novas (append-only), nunca remoção/overwrite.
//
// Update em sessão inexistente/expirada devolve ErrSessionNotFound; callers
// tratam como "começa do zero", nunca como erro fatal.
func UpdateSession(db *gorm.DB, sessionID string, patch StatePatch) (*models.ApplicationSession, error) {
	session, err := GetSession(db, sessionID)
	if err != nil {
		return nil, err
	}

	terminal := session.IsCompleted()

	if patch.CurrentStep != nil && models.IsValidStep(*patch.CurrentStep) && !terminal {
		session.CurrentStep = *patch.CurrentStep
	}

	if patch.UserIdentifier != nil && *patch.UserIdentifier != "" {
		session.UserIdentifier = *patch.UserIdentifier
	}

	if patch.FormData != nil {
		var changed []string
		if terminal {
			// Append-only: preserva tudo que já existe, aceita só chaves novas
			// (ex.: pdf_path e timestamp de geração).
			merged := session.FormData.Copy()
			for k, v := range patch.FormData {
				if _, exists := merged[k]; !exists {
					merged[k] = v
					changed = append(changed, k)
				}
			}
			session.FormData = merged
		} else {
			changed = changedFormKeys(session.FormData, patch.FormData)
			session.FormData = patch.FormData
		}
		session.Metadata = stampFormFields(session.Metadata, nil, changed)
	}

	if patch.Metadata != nil {
		meta := session.Metadata.Copy()
		for k, v := range patch.Metadata {
			if k == models.META_FIELD_UPDATED_AT {
				continue // bookkeeping interno, não sobrescrevível por patch
			}
			meta[k] = v
		}
		session.Metadata = meta
	}

	if err := db.Save(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func SoftDeleteSession(db *gorm.DB, sessionID string) error {
	return db.Where("session_id = ?", sessionID).
		Delete(&models.ApplicationSession{}).Error
}

// HardDeleteSession remove a linha fisicamente (fase "purged" do ciclo de
// vida; necessária para liberar reference codes).
func HardDeleteSession(db *gorm.DB, sessionID string) error {
	return db.Unscoped().Where("session_id = ?", sessionID).
		Delete(&models.ApplicationSession{}).Error
}

// LinkAddress grava/atualiza o mapeamento (channel, address) -> session.
func LinkAddress(db *gorm.DB, channel, address, sessionID string) error {
	var link models.ChannelLink
	err := db.Where("channel = ? AND channel_address = ?", channel, address).
		First(&link).Error
	if gorm.IsRecordNotFoundError(err) {
		link = models.ChannelLink{Channel: channel, ChannelAddress: address, SessionID: sessionID}
		return db.Create(&link).Error
	}
	if err != nil {
		return err
	}
	if link.SessionID == sessionID {
		return nil
	}
	return db.Model(&link).Update("session_id", sessionID).Error
}

// RetrieveByAddress resolve a sessão viva de um endereço de canal.
func RetrieveByAddress(db *gorm.DB, channel, address string) (*models.ApplicationSession, error) {
	var link models.ChannelLink
	err := db.Where("channel = ? AND channel_address = ?", channel, address).
		First(&link).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return GetSession(db, link.SessionID)
}

// RetrieveByIdentifier resolve a sessão viva mais recente de um
// user_identifier (ex.: national ID digitado no wizard web).
func RetrieveByIdentifier(db *gorm.DB, identifier string) (*models.ApplicationSession, error) {
	var session models.ApplicationSession
	err := db.Where("user_identifier = ?", identifier).
		Where("expires_at > ?", time.Now()).
		Order("updated_at desc").
		First(&session).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

/************************************************
/**** MARK: FIELD TIMESTAMPS ****/
/************************************************/

// O merge "campo mais recente vence" precisa saber quando cada chave de
// form_data foi escrita pela última vez. Guardamos os carimbos em
// metadata.field_updated_at; linhas antigas sem carimbo caem no updated_at
// do documento.

func stampFormFields(metadata models.JSONMap, formData models.JSONMap, keys []string) models.JSONMap {
	if formData == nil && len(keys) == 0 {
		return metadata
	}
	meta := metadata.Copy()
	stamps := FieldStamps(meta)
	now := time.Now().UTC().Format(time.RFC3339)
	for k := range formData {
		stamps[k] = now
	}
	for _, k := range keys {
		stamps[k] = now
	}
	asAny := make(map[string]interface{}, len(stamps))
	for k, v := range stamps {
		asAny[k] = v
	}
	meta[models.META_FIELD_UPDATED_AT] = asAny
	return meta
}

// FieldStamps extrai o mapa de carimbos do metadata (tolerante ao shape
// map[string]interface{} que volta do JSON).
func FieldStamps(metadata models.JSONMap) map[string]string {
	out := map[string]string{}
	raw, ok := metadata[models.META_FIELD_UPDATED_AT]
	if !ok {
		return out
	}
	switch m := raw.(type) {
	case map[string]interface{}:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// FieldUpdatedAt devolve o instante da última escrita de uma chave, caindo
// para o updated_at do documento quando não há carimbo.
func FieldUpdatedAt(session *models.ApplicationSession, key string) time.Time {
	stamps := FieldStamps(session.Metadata)
	if s, ok := stamps[key]; ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	if session.UpdatedAt != nil {
		return *session.UpdatedAt
	}
	return time.Time{}
}

func changedFormKeys(oldData, newData models.JSONMap) []string {
	var changed []string
	for k, v := range newData {
		old, exists := oldData[k]
		if !exists || !jsonEqual(old, v) {
			changed = append(changed, k)
		}
	}
	return changed
}
