// Package qr renders the external login URL as a PNG so it can be opened on
// another device.
package qr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/crazy3lf/colorconv"
	"github.com/google/uuid"
	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

const DefaultColor = "#69676e"

// Options returns the image options used for every code.
func Options(hex string) ([]standard.ImageOption, error) {
	if hex == "" {
		hex = DefaultColor
	}
	c, err := colorconv.HexToColor(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid qr color %q: %w", hex, err)
	}
	return []standard.ImageOption{
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
		standard.WithFgColor(c),
		standard.WithQRWidth(12),
		standard.WithBorderWidth(20),
	}, nil
}

// Create writes a PNG encoding target to downloadPath.
func Create(ctx context.Context, target string, downloadPath string, imgOptions ...standard.ImageOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	endpoint, err := url.Parse(target)
	if err != nil {
		return err
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return fmt.Errorf("qr target must be an http(s) url, got %q", target)
	}
	code, err := qrcode.NewWith(endpoint.String(),
		qrcode.WithEncodingMode(qrcode.EncModeByte),
		qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionQuart),
	)
	if err != nil {
		return err
	}
	w, err := standard.New(downloadPath, imgOptions...)
	if err != nil {
		return fmt.Errorf("failed creating qr writer: %w", err)
	}
	if err := code.Save(w); err != nil {
		return fmt.Errorf("failed saving qr code: %w", err)
	}
	return nil
}

// Handler serves a freshly rendered code for target.
func Handler(target string, hex string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts, err := Options(hex)
		if err != nil {
			http.Error(w, "invalid qr color", http.StatusInternalServerError)
			return
		}
		p := filepath.Join(os.TempDir(), "stocker-"+uuid.NewString()+".png")
		defer func() {
			_ = os.Remove(p)
		}()
		if err := Create(r.Context(), target, p, opts...); err != nil {
			logger.Error("failed generating qr code", "error", err)
			http.Error(w, "failed to generate qr code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, p)
	})
}
