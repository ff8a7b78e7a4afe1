package controllers

import (
	"context"
	"time"

	"bilireply/autoreply"
	"bilireply/config"
	"bilireply/models"
	"bilireply/tools"
)

// Bilibili is the subset of tools.BilibiliClient the handlers call.
type Bilibili interface {
	autoreply.Feed
	GenerateLoginQRCode(ctx context.Context) (tools.QRCode, error)
	PollLoginQRCode(ctx context.Context, key string) (tools.QRCodePoll, error)
	GetNav(ctx context.Context, cookies string) (tools.NavInfo, error)
}

// PassRunner runs an auto-reply pass; *autoreply.Orchestrator implements it.
type PassRunner interface {
	Run(ctx context.Context, user models.User, opts autoreply.RunOptions) (*autoreply.Report, error)
}

type Deps struct {
	Config    config.Configuration
	Bilibili  Bilibili
	AutoReply PassRunner
	Now       func() time.Time
}

var deps = Deps{Now: time.Now}

// Configure sets the collaborators used by the handlers. Call it before serving.
func Configure(d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	deps = d
}
