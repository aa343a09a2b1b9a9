// Package main prints device tokens for manual testing of the identity API.
// The device key is read from -key, or generated and saved there on first use,
// so repeated runs act as the same device.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	keyPath := flag.String("key", "device.pem", "path of the device's P-256 private key (PEM)")
	audience := flag.String("audience", "identity", "aud claim expected by the server")
	ttl := flag.Duration("ttl", time.Minute, "token lifetime")
	count := flag.Int("n", 1, "number of tokens to print; each has a fresh jti")
	flag.Parse()

	key, err := loadOrCreateKey(*keyPath)
	if err != nil {
		return err
	}

	signer, err := auth.NewDeviceSigner(auth.DeviceSignerConfig{
		Key:      key,
		Audience: *audience,
		TTL:      *ttl,
		Clock:    domain.RealClock{},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "device: %s\n", signer.DIDWrite())
	for i := 0; i < *count; i++ {
		tok, err := signer.Sign()
		if err != nil {
			return err
		}
		fmt.Println(tok.Token)
	}
	return nil
}

func loadOrCreateKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return createKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("device key %s: no PEM block", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse device key: %w", err)
	}
	return key, nil
}

func createKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode device key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	return key, nil
}
