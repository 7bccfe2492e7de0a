package tools

import (
	"math/rand"
	"time"
)

// Charset dos reference codes: maiúsculas + dígitos (o input do usuário é
// normalizado para uppercase antes do lookup).
const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomCode gera um código alfanumérico uppercase de tamanho length.
func RandomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = codeCharset[seededRand.Intn(len(codeCharset))]
	}
	return string(b)
}
