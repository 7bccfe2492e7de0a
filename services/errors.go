package services

import "errors"

// Falhas esperadas do core. Controllers mapeiam cada uma para o comportamento
// HTTP/mensageria correspondente; nada aqui deve virar 5xx para o provedor.
var (
	// ErrSessionNotFound: alvo de resume/status não existe, expirou ou foi
	// soft-deleted. Tráfego esperado, não é logado como erro.
	ErrSessionNotFound = errors.New("application session not found or expired")

	// ErrDuplicateEvent: message_id já observado; o evento é um retry e deve
	// ser confirmado sem efeitos colaterais.
	ErrDuplicateEvent = errors.New("duplicate inbound event")

	// ErrInvalidCode: o código pedido não tem o shape aceito (alfanumérico
	// uppercase, 4 a 15 chars).
	ErrInvalidCode = errors.New("reference code has an invalid format")

	// ErrCodeCollision: o gerador esgotou as tentativas de achar um código
	// livre (probabilidade baixíssima; indica tabela saturada).
	ErrCodeCollision = errors.New("could not allocate a free reference code")

	// ErrSyncConflict: merge entre uma sessão completed e uma em andamento.
	// Warning não-fatal; os dados da sessão completed são autoritativos.
	ErrSyncConflict = errors.New("sync conflict: completed session is authoritative")
)
