package receipts

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidReceipt = errors.New("invalid receipt")

// Receipt is the sealed content of a purchase QR code.
type Receipt struct {
	EntryID  int64     `json:"entryId"`
	FullName string    `json:"fullName"`
	Tickets  []int     `json:"tickets"`
	IssuedAt time.Time `json:"issuedAt"`
}

type QRGenerator struct {
	aead cipher.AEAD
}

func NewQRGenerator(secret string) (*QRGenerator, error) {
	if secret == "" {
		return nil, errors.New("receipt secret is empty")
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &QRGenerator{aead: aead}, nil
}

// Seal encrypts a receipt into the URL-safe token carried by the QR code.
func (q *QRGenerator) Seal(receipt Receipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampered or foreign tokens yield ErrInvalidReceipt.
func (q *QRGenerator) Open(token string) (*Receipt, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if len(raw) < q.aead.NonceSize() {
		return nil, ErrInvalidReceipt
	}

	nonce, ciphertext := raw[:q.aead.NonceSize()], raw[q.aead.NonceSize():]
	data, err := q.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	return &receipt, nil
}

// GenerateEncryptedQR renders the sealed receipt as a PNG QR code.
func (q *QRGenerator) GenerateEncryptedQR(receipt Receipt) ([]byte, error) {
	token, err := q.Seal(receipt)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}
