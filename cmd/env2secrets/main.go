// Command env2secrets imports secrets from a .env file into the encrypted
// badger store, so the bot can run without BOT_PK sitting in the process
// environment.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Poom5741/tok-tradingbot/pkg/secretstore"
)

// storedKeys maps .env variable names to their slot in the secret store.
var storedKeys = map[string]string{
	"BOT_PK":             secretstore.KeyBotPK,
	"TOPUP_SOURCE_PK":    "topup_source_pk",
	"TELEGRAM_BOT_TOKEN": "telegram_bot_token",
	"GITHUB_TOKEN":       "github_token",
}

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("db", getenv("TOKBOT_SECRET_STORE_DIR", "data/secrets.badger"), "secret store path")
		secretKey = flag.String("secret-key", getenv("TOKBOT_SECRET_KEY", ""), "store encryption key (32 bytes, base64 or hex)")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("an encryption key is required: set TOKBOT_SECRET_KEY or pass -secret-key"))
	}

	env, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(fmt.Errorf("read %s: %w", *inPath, err))
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	written := 0
	for envName, slot := range storedKeys {
		val := strings.TrimSpace(env[envName])
		if val == "" {
			continue
		}
		if err := store.SetString(slot, val); err != nil {
			fatal(err)
		}
		written++
	}

	fmt.Fprintf(os.Stderr, "imported %d secrets into %s\n", written, *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
