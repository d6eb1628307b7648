package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"flowair/internal/config"
	"flowair/internal/crypto"
	"flowair/internal/metrics"
)

type sealCmd struct{}

// Run prints the sealed form of the first line on stdin, ready to paste
// into a *_API_KEY_SEALED variable.
func (sealCmd) Run(cfg *config.Config) error {
	if len(cfg.Crypto.Keys) == 0 {
		return config.ErrMissingMasterKey
	}
	keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		return fmt.Errorf("init keyring: %w", err)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read stdin: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return errors.New("nothing to seal on stdin")
	}

	sealed, err := keyring.SealString(secret)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

type grantCmd struct {
	User    string `required:"" help:"User id to credit."`
	Credits int64  `required:"" help:"New credit balance."`
	Tier    string `help:"Subscription tier to record alongside the balance."`
}

func (g grantCmd) Run(cfg *config.Config) error {
	if g.Credits < 0 {
		return errors.New("--credits must be >= 0")
	}
	ctx := context.Background()

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	led, _ := d.ledger(cfg, metrics.Global())
	acc, err := led.Grant(ctx, strings.TrimSpace(g.User), g.Credits, g.Tier)
	if err != nil {
		return err
	}
	log.Info().
		Str("user_id", acc.UserID).
		Int64("credits", acc.CreditsRemaining).
		Str("tier", acc.SubscriptionTier).
		Msg("account updated")
	return nil
}
