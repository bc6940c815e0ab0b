package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Seann-Moser/stocker/utils"
)

const returnCookieName = "stocker_return_to"

// returnTo survives the provider round trip so the callback can send the
// user back where the guard stopped them.
type returnTo struct {
	Path      string `json:"path"`
	ExpiresAt int64  `json:"exp"`
}

func computeHMAC(message string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func validateHMAC(message, sig string, secret []byte) bool {
	expected := computeHMAC(message, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func setReturnCookie(w http.ResponseWriter, r *http.Request, path string, secret []byte, ttl time.Duration) error {
	path = utils.SafeReturnPath(path)
	if path == "" {
		clearReturnCookie(w, r)
		return nil
	}
	rt := returnTo{Path: path, ExpiresAt: time.Now().Add(ttl).Unix()}
	jsonData, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	value := base64.URLEncoding.EncodeToString(jsonData)
	http.SetCookie(w, &http.Cookie{
		Name:     returnCookieName,
		Value:    fmt.Sprintf("%s|%s", value, computeHMAC(value, secret)),
		Path:     "/",
		Expires:  time.Unix(rt.ExpiresAt, 0),
		HttpOnly: true,
		Secure:   utils.RequestScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readReturnCookie(r *http.Request, secret []byte) (string, error) {
	c, err := r.Cookie(returnCookieName)
	if err != nil {
		return "", err
	}
	parts := strings.Split(c.Value, "|")
	if len(parts) != 2 {
		return "", errors.New("invalid return cookie format")
	}
	value, sig := parts[0], parts[1]
	if !validateHMAC(value, sig, secret) {
		return "", errors.New("invalid return cookie signature")
	}
	jsonData, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	var rt returnTo
	if err := json.Unmarshal(jsonData, &rt); err != nil {
		return "", err
	}
	if time.Now().Unix() > rt.ExpiresAt {
		return "", errors.New("return cookie expired")
	}
	return utils.SafeReturnPath(rt.Path), nil
}

func clearReturnCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     returnCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   utils.RequestScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}
