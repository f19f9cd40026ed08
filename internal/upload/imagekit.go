package upload

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/utils"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	MaxUploadSize = 10 << 20
	authTTL       = 600 * time.Second
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file exceeds 10 MiB")
	ErrUnsupportedType = errors.New("only images and PDF files are accepted")
	ErrNotConfigured   = errors.New("image storage is not configured")
)

// Result describes a stored payment proof.
type Result struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	FilePath string `json:"filePath"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Digest   string `json:"digest"`
}

// AuthParams lets a browser upload straight to ImageKit.
type AuthParams struct {
	Token     string `json:"token"`
	Expire    int64  `json:"expire"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

type ImageKit struct {
	PublicKey   string
	PrivateKey  string
	URLEndpoint string
	UploadURL   string
	Folder      string
	Client      *http.Client
	Logger      *logger.Logger
	Now         func() time.Time
}

func NewImageKit(publicKey, privateKey, urlEndpoint, uploadURL, folder string, log *logger.Logger) *ImageKit {
	return &ImageKit{
		PublicKey:   publicKey,
		PrivateKey:  privateKey,
		URLEndpoint: urlEndpoint,
		UploadURL:   uploadURL,
		Folder:      folder,
		Client:      &http.Client{Timeout: 30 * time.Second},
		Logger:      log,
		Now:         time.Now,
	}
}

// Detect checks size and content type of an upload before it leaves the service.
func Detect(data []byte) (*mimetype.MIME, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") && !mtype.Is("application/pdf") {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedType, mtype.String())
	}
	return mtype, nil
}

// Digest is the hex BLAKE3 hash of a file, recorded alongside the upload.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Upload stores data under folder, or the configured folder when folder is empty.
func (k *ImageKit) Upload(ctx context.Context, folder, fileName string, data []byte) (*Result, error) {
	if k.PrivateKey == "" {
		return nil, ErrNotConfigured
	}
	mtype, err := Detect(data)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == "/" {
		name = utils.GenerateUploadName(mtype.Extension())
	}
	digest := Digest(data)
	if folder = strings.TrimSpace(folder); folder == "" {
		folder = k.Folder
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"fileName":          name,
		"folder":            folder,
		"useUniqueFileName": "true",
		"tags":              "blake3-" + digest[:16],
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.UploadURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.SetBasicAuth(k.PrivateKey, "")

	k.Logger.Debug("UPLOAD", fmt.Sprintf("Uploading %s (%s, %d bytes)", name, mtype.String(), len(data)))
	resp, err := k.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		k.Logger.Error("UPLOAD", fmt.Sprintf("ImageKit rejected upload: %s %s", resp.Status, string(b)))
		return nil, fmt.Errorf("upload failed, status: %s", resp.Status)
	}

	result := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if result.MimeType == "" {
		result.MimeType = mtype.String()
	}
	result.Digest = digest

	k.Logger.Info("UPLOAD", fmt.Sprintf("Stored %s as %s", name, result.URL))
	return result, nil
}

// AuthParams signs a short-lived token for client-side uploads:
// signature = hex(HMAC-SHA1(privateKey, token+expire)).
func (k *ImageKit) AuthParams() (*AuthParams, error) {
	if k.PrivateKey == "" {
		return nil, ErrNotConfigured
	}
	token := uuid.NewString()
	expire := k.Now().Add(authTTL).Unix()

	mac := hmac.New(sha1.New, []byte(k.PrivateKey))
	mac.Write([]byte(token + strconv.FormatInt(expire, 10)))

	return &AuthParams{
		Token:     token,
		Expire:    expire,
		Signature: hex.EncodeToString(mac.Sum(nil)),
		PublicKey: k.PublicKey,
	}, nil
}
