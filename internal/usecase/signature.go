package usecase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMissing       = errors.New("signature header missing")
	ErrSignatureMalformed     = errors.New("signature header malformed")
	ErrSignatureExpired       = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch      = errors.New("signature mismatch")
	ErrSignatureNotConfigured = errors.New("webhook secret not configured")
)

// 決済代行の通知署名（x-signature: ts=...,v1=...）を検証する
type SignatureVerifier struct {
	secret    []byte
	required  bool
	tolerance time.Duration
	clock     Clock
}

func NewSignatureVerifier(secret string, required bool, tolerance time.Duration, clock Clock) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    []byte(secret),
		required:  required,
		tolerance: tolerance,
		clock:     clock,
	}
}

func (v *SignatureVerifier) Verify(dataID, requestID, header string) error {
	if len(v.secret) == 0 {
		//秘密鍵なしで受け付けるのは開発環境だけ
		if v.required {
			return ErrSignatureNotConfigured
		}
		return nil
	}
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}

	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}
	//ミリ秒で来ることもある
	if sec > 1e12 {
		sec /= 1000
	}
	skew := v.clock.Now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.tolerance > 0 && skew > v.tolerance {
		return ErrSignatureExpired
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureMalformed
	}
	want := signManifest(v.secret, manifest(dataID, requestID, ts))
	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

// x-signatureの値を作る（テストや手動再送用）
func SignWebhook(secret, dataID, requestID string, ts int64) string {
	t := strconv.FormatInt(ts, 10)
	sig := signManifest([]byte(secret), manifest(dataID, requestID, t))
	return "ts=" + t + ",v1=" + hex.EncodeToString(sig)
}

func parseSignatureHeader(header string) (ts string, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(val)
		case "v1":
			v1 = strings.TrimSpace(val)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", ErrSignatureMalformed
	}
	return ts, v1, nil
}

// 値が無い項目はテンプレートから外す
func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func signManifest(secret []byte, m string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(m))
	return mac.Sum(nil)
}
