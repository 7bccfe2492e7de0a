package services

import (
	"encoding/json"
	"sort"
	"time"

	"microbiz/models"
	"microbiz/tools"

	"github.com/jinzhu/gorm"
)

// Este arquivo é o ÚNICO lugar autorizado a remodelar ou mesclar form_data.
// Cada canal produz um shape diferente do documento (a web aninha respostas
// em formResponses, o bot achata seleções, etc.); tudo que cruza canais
// passa por aqui primeiro.

// Pares de alias conhecidos entre o shape achatado (web) e o shape detalhado
// (whatsapp guarda o objeto selecionado inteiro).
var aliasPairs = []struct {
	flat     string
	selected string
}{
	{"category", "selectedCategory"},
	{"business", "selectedBusiness"},
	{"scale", "selectedScale"},
}

// NormalizeDataForPlatform é um transform puro e idempotente: normalizar
// dados já normalizados para o mesmo canal é no-op. Chaves desconhecidas
// passam intactas.
func NormalizeDataForPlatform(data models.JSONMap, targetChannel string) models.JSONMap {
	out := data.Copy()

	// Alguns forms aninham as respostas um nível abaixo ("data.formResponses");
	// içamos para o topo quando o topo ainda não tem.
	if _, ok := out["formResponses"]; !ok {
		if inner, ok := out["data"].(map[string]interface{}); ok {
			if fr, ok := inner["formResponses"]; ok {
				out["formResponses"] = fr
			}
		}
	}

	switch targetChannel {
	case models.CHANNEL_WHATSAPP:
		// O bot precisa do objeto de seleção; reconstrói um mínimo a partir
		// do id achatado quando só ele existe.
		for _, p := range aliasPairs {
			if _, ok := out[p.selected]; ok {
				continue
			}
			if id, ok := out[p.flat]; ok {
				out[p.selected] = map[string]interface{}{"id": id}
			}
		}
	default:
		// web, ussd e mobile_app usam o shape achatado. Mesma guarda do ramo
		// whatsapp: só materializa o alias quando a chave ainda não existe —
		// um selectedX vindo do outro lado de um merge não pode atropelar um
		// x já respondido neste.
		for _, p := range aliasPairs {
			if _, ok := out[p.flat]; ok {
				continue
			}
			if sel, ok := out[p.selected].(map[string]interface{}); ok {
				if id, ok := sel["id"]; ok {
					out[p.flat] = id
				}
			}
		}
	}

	return out
}

// SwitchToWhatsApp prepara a retomada de uma sessão web pelo WhatsApp:
// garante reference code (gerando se não houver, estendendo se perto de
// vencer) e grava o telefone em metadata.phone_number. NÃO muda o channel da
// sessão web — a retomada no WhatsApp acontece numa sessão separada, ligada
// pelo código compartilhado até o merge explícito.
func SwitchToWhatsApp(db *gorm.DB, sessionID, phoneNumber string) (string, error) {
	session, err := GetSession(db, sessionID)
	if err != nil {
		return "", err
	}

	phone, err := tools.NormalizePhone(phoneNumber)
	if err != nil {
		return "", err
	}

	var code string
	if session.ReferenceCode != nil && !session.CodeExpired(time.Now()) {
		code = *session.ReferenceCode
		if _, err := ExtendCode(db, code); err != nil && err != ErrSessionNotFound {
			return "", err
		}
	} else {
		code, err = GenerateCode(db, sessionID, "")
		if err != nil {
			return "", err
		}
	}

	_, err = UpdateSession(db, sessionID, StatePatch{
		Metadata: models.JSONMap{models.META_PHONE_NUMBER: phone},
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// SwitchToWeb cria (ou reusa) uma sessão web a partir de uma sessão
// WhatsApp, copiando o form_data normalizado. O reference code fica na
// sessão de origem — no máximo uma sessão viva por código.
func SwitchToWeb(db *gorm.DB, whatsappSessionID string) (*models.ApplicationSession, error) {
	waSession, err := GetSession(db, whatsappSessionID)
	if err != nil {
		return nil, err
	}

	// Reusa a sessão web já vinculada, sincronizando antes de devolver.
	if webID := waSession.Metadata.GetString("web_session_id"); webID != "" {
		if existing, err := GetSession(db, webID); err == nil {
			if _, err := Synchronize(db, whatsappSessionID, webID); err != nil && err != ErrSyncConflict {
				return nil, err
			}
			return GetSession(db, existing.SessionID)
		}
	}

	meta := waSession.Metadata.Copy()
	delete(meta, models.META_FIELD_UPDATED_AT)
	meta["created_from_whatsapp"] = waSession.SessionID

	webSession, err := CreateSession(
		db,
		models.CHANNEL_WEB,
		waSession.CurrentStep,
		NormalizeDataForPlatform(waSession.FormData, models.CHANNEL_WEB),
		meta,
	)
	if err != nil {
		return nil, err
	}

	_, err = UpdateSession(db, whatsappSessionID, StatePatch{
		Metadata: models.JSONMap{"web_session_id": webSession.SessionID},
	})
	if err != nil {
		return nil, err
	}
	return webSession, nil
}

// MergeReport relata quais chaves mudaram de cada lado, para auditoria.
type MergeReport struct {
	PrimaryChanged   []string `json:"primary_changed"`
	SecondaryChanged []string `json:"secondary_changed"`
	Warning          string   `json:"warning,omitempty"`
}

// Synchronize faz a reconciliação bidirecional chave a chave: campo
// respondido de um lado só é preservado; campo respondido dos dois lados
// fica com o valor de escrita mais recente (carimbo por campo, com fallback
// no updated_at do documento). Falha inteira se qualquer uma das sessões não
// existir — nunca merge parcial. Sessão completed é autoritativa: seus dados
// não são sobrescritos e o conflito vira warning (ErrSyncConflict) no report.
func Synchronize(db *gorm.DB, primarySessionID, secondarySessionID string) (*MergeReport, error) {
	primary, err := GetSession(db, primarySessionID)
	if err != nil {
		return nil, err
	}
	secondary, err := GetSession(db, secondarySessionID)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{}
	merged := models.JSONMap{}
	conflict := primary.IsCompleted() != secondary.IsCompleted()

	if conflict {
		authoritative, other := primary, secondary
		if secondary.IsCompleted() {
			authoritative, other = secondary, primary
		}
		merged = authoritative.FormData.Copy()
		for k, v := range other.FormData {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		report.Warning = ErrSyncConflict.Error()
	} else {
		for k := range primary.FormData {
			merged[k] = pickNewer(primary, secondary, k)
		}
		for k := range secondary.FormData {
			if _, seen := merged[k]; !seen {
				merged[k] = pickNewer(primary, secondary, k)
			}
		}
	}

	report.PrimaryChanged = diffKeys(primary.FormData, merged)
	report.SecondaryChanged = diffKeys(secondary.FormData, merged)

	step := mergedStep(primary, secondary)
	now := time.Now().UTC().Format(time.RFC3339)

	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	for _, pair := range []struct {
		session *models.ApplicationSession
		other   *models.ApplicationSession
	}{{primary, secondary}, {secondary, primary}} {
		s := pair.session
		meta := mergeMetadata(s.Metadata, pair.other.Metadata)
		meta[models.META_LAST_SYNC] = now
		meta[models.META_SYNC_SOURCE] = primary.Channel
		meta[models.META_MERGED_FROM] = pair.other.SessionID

		s.FormData = NormalizeDataForPlatform(merged, s.Channel)
		s.Metadata = meta
		if !s.IsCompleted() && models.StepIndex(step) >= 0 {
			s.CurrentStep = step
		}
		if err := tx.Save(s).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return report, nil
}

// SyncStatusReport é o diff read-only entre duas sessões.
type SyncStatusReport struct {
	InSync   bool     `json:"in_sync"`
	DiffKeys []string `json:"diff_keys"`
}

// SyncStatus não muta nada.
func SyncStatus(db *gorm.DB, sessionID1, sessionID2 string) (*SyncStatusReport, error) {
	s1, err := GetSession(db, sessionID1)
	if err != nil {
		return nil, err
	}
	s2, err := GetSession(db, sessionID2)
	if err != nil {
		return nil, err
	}

	diff := map[string]bool{}
	for k, v := range s1.FormData {
		if other, ok := s2.FormData[k]; !ok || !jsonEqual(v, other) {
			diff[k] = true
		}
	}
	for k, v := range s2.FormData {
		if other, ok := s1.FormData[k]; !ok || !jsonEqual(v, other) {
			diff[k] = true
		}
	}

	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &SyncStatusReport{InSync: len(keys) == 0, DiffKeys: keys}, nil
}

/************************************************
/**** MARK: MERGE HELPERS ****/
/************************************************/

func pickNewer(primary, secondary *models.ApplicationSession, key string) interface{} {
	pv, pok := primary.FormData[key]
	sv, sok := secondary.FormData[key]
	if !sok {
		return pv
	}
	if !pok {
		return sv
	}
	if jsonEqual(pv, sv) {
		return pv
	}
	if FieldUpdatedAt(secondary, key).After(FieldUpdatedAt(primary, key)) {
		return sv
	}
	return pv
}

// mergedStep: completed sempre vence; senão, vale o step da sessão atualizada
// mais recentemente (steps de side-channel ficam como estão).
func mergedStep(a, b *models.ApplicationSession) string {
	if a.IsCompleted() || b.IsCompleted() {
		return models.STEP_COMPLETED
	}
	newer := a
	if b.UpdatedAt != nil && (a.UpdatedAt == nil || b.UpdatedAt.After(*a.UpdatedAt)) {
		newer = b
	}
	return newer.CurrentStep
}

func mergeMetadata(own, other models.JSONMap) models.JSONMap {
	out := other.Copy()
	for k, v := range own {
		if k != models.META_FIELD_UPDATED_AT {
			out[k] = v
		}
	}
	// Carimbos por campo: vale o mais recente de cada lado.
	stamps := FieldStamps(own)
	for k, v := range FieldStamps(other) {
		if cur, ok := stamps[k]; !ok || v > cur {
			stamps[k] = v
		}
	}
	if len(stamps) > 0 {
		asAny := make(map[string]interface{}, len(stamps))
		for k, v := range stamps {
			asAny[k] = v
		}
		out[models.META_FIELD_UPDATED_AT] = asAny
	}
	return out
}

func diffKeys(before, after models.JSONMap) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !jsonEqual(old, v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// jsonEqual compara valores de form_data pelo shape serializado (depois do
// roundtrip JSON tudo vira map/slice/float64/string).
func jsonEqual(a, b interface{}) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
