package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/genjobs/internal/auth"
)

type TokenCmd struct {
	Subject     string        `arg:"" help:"subject the token is issued to"`
	Roles       []string      `help:"roles granted to the subject"`
	TTL         time.Duration `help:"token lifetime" default:"24h"`
	JWTSecret   string        `help:"HMAC secret for API bearer tokens" required:"" env:"GENJOBS_JWT_SECRET"`
	JWTAudience string        `help:"audience of API bearer tokens" default:"genjobs" env:"GENJOBS_JWT_AUDIENCE"`
}

func (c *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	token, err := auth.IssueToken([]byte(c.JWTSecret), c.JWTAudience, c.Subject, c.Roles, c.TTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}
