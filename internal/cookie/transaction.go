package cookie

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/ebo-bff/internal/crypto"
	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/log"
)

const (
	// TransactionMaxAge bounds how long a login may take between redirect
	// and callback.
	TransactionMaxAge = 600 * time.Second

	transactionVersion = 2
)

// Transaction is the in-flight OAuth login carried in the transaction
// cookie between the login redirect and the provider callback.
type Transaction struct {
	Version      int
	Provider     idp.Name
	State        string
	Nonce        string
	CreatedAt    time.Time
	ReturnToPath string
}

// NewTransaction creates a login transaction with fresh state and nonce.
func NewTransaction(provider idp.Name, returnToPath string, now time.Time) (*Transaction, error) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return &Transaction{
		Version:      transactionVersion,
		Provider:     provider,
		State:        state,
		Nonce:        nonce,
		CreatedAt:    now,
		ReturnToPath: normalizeReturnToPath(returnToPath),
	}, nil
}

// transactionPayload is the wire form. createdAt is epoch milliseconds.
type transactionPayload struct {
	V            int    `json:"v"`
	Provider     string `json:"provider"`
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CreatedAt    int64  `json:"createdAt"`
	ReturnToPath string `json:"returnToPath,omitempty"`
}

// EncodeTransaction serializes tx into a cookie value.
func EncodeTransaction(tx *Transaction) (string, error) {
	data, err := json.Marshal(transactionPayload{
		V:            transactionVersion,
		Provider:     string(tx.Provider),
		State:        tx.State,
		Nonce:        tx.Nonce,
		CreatedAt:    tx.CreatedAt.UnixMilli(),
		ReturnToPath: normalizeReturnToPath(tx.ReturnToPath),
	})
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(data)), nil
}

// DecodeTransaction parses a cookie value. Any malformed or unrecognized
// value yields ok == false; it never returns an error.
func DecodeTransaction(value string) (*Transaction, bool) {
	if value == "" {
		return nil, false
	}
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return nil, false
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false
	}

	version, ok := fields["v"].(float64)
	if !ok || (version != 1 && version != 2) {
		return nil, false
	}
	provider, ok := fields["provider"].(string)
	if !ok {
		return nil, false
	}
	name, ok := idp.ParseName(provider)
	if !ok {
		return nil, false
	}
	state, ok := fields["state"].(string)
	if !ok {
		return nil, false
	}
	nonce, ok := fields["nonce"].(string)
	if !ok {
		return nil, false
	}
	createdAt, ok := fields["createdAt"].(float64)
	if !ok {
		return nil, false
	}

	// v1 cookies predate return paths.
	returnTo := "/"
	if version == 2 {
		if p, ok := fields["returnToPath"].(string); ok {
			returnTo = p
		}
	}

	return &Transaction{
		Version:      int(version),
		Provider:     name,
		State:        state,
		Nonce:        nonce,
		CreatedAt:    time.UnixMilli(int64(createdAt)),
		ReturnToPath: normalizeReturnToPath(returnTo),
	}, true
}

// Encode starts a login transaction for provider and returns it together
// with the cookie that carries it.
func Encode(provider idp.Name, returnToPath string) (*Transaction, *http.Cookie, error) {
	tx, err := NewTransaction(provider, returnToPath, time.Now())
	if err != nil {
		return nil, nil, err
	}
	c, err := NewTransactionCookie(tx)
	if err != nil {
		return nil, nil, err
	}
	return tx, c, nil
}

// NewTransactionCookie builds the cookie carrying tx. The __Host- prefix
// requires Secure, so it is set even in development.
func NewTransactionCookie(tx *Transaction) (*http.Cookie, error) {
	value, err := EncodeTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}

	log.LogTraceWithFields("cookie", "Transaction cookie built", map[string]any{
		"provider": tx.Provider,
	})

	return &http.Cookie{
		Name:     TransactionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(TransactionMaxAge.Seconds()),
	}, nil
}

// Decode loads the transaction cookie from the request.
func Decode(r *http.Request) (*Transaction, bool) {
	value, err := Get(r, TransactionCookie)
	if err != nil {
		return nil, false
	}
	return DecodeTransaction(value)
}

// ClearTransaction returns a cookie that expires the transaction cookie.
func ClearTransaction() *http.Cookie {
	return clearing(TransactionCookie, true)
}

func normalizeReturnToPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/"
	}
	return p
}
