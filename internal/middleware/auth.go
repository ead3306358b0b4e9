// Package middleware содержит HTTP middleware сервиса inntektsmelding.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mmeshcher/inntektsmelding-service/internal/service"
)

type contextKey string

const callerKey contextKey = "caller"

// AuthMiddleware проверяет подписанный bearer-токен и помещает идентичность
// вызывающего в контекст запроса. Токен имеет вид ident.channel.signature.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет идентичность вызывающего в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken выпускает подписанный токен для указанной идентичности.
func (a *AuthMiddleware) IssueToken(caller service.CallerIdentity) string {
	payload := caller.Ident + "." + string(caller.Channel)
	return payload + "." + a.sign(payload)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (service.CallerIdentity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return service.CallerIdentity{}, false
	}

	ident := parts[0]
	channel := service.Channel(parts[1])
	signature := parts[2]

	if channel != service.ChannelEmployer && channel != service.ChannelSystem {
		return service.CallerIdentity{}, false
	}

	expected := a.sign(ident + "." + string(channel))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return service.CallerIdentity{}, false
	}

	return service.CallerIdentity{Ident: ident, Channel: channel}, true
}

// GetCallerFromContext извлекает идентичность вызывающего из контекста запроса.
func GetCallerFromContext(ctx context.Context) (service.CallerIdentity, bool) {
	caller, ok := ctx.Value(callerKey).(service.CallerIdentity)
	return caller, ok
}
