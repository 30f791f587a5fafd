package main

import (
	"errors"
	"log/slog"
	"os"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// A failed login already reported its message.
		if !errors.Is(err, errLoginFailed) {
			slog.Error("fatal error", "error", err)
		}
		os.Exit(1)
	}
}
