// Package media resolves media assets into send-ready message payloads.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
)

// Transcoder normalizes audio into a delivery profile and returns the output path.
type Transcoder interface {
	Transcode(ctx context.Context, source string, profile domain.TranscodeProfile) (string, error)
}

// Resolver classifies assets and builds payloads.
type Resolver struct {
	transcoder   Transcoder
	logger       *slog.Logger
	deleteSource bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTranscoder sets the audio transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(r *Resolver) {
		r.transcoder = t
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDeleteSource removes the source file after a successful resolution.
func WithDeleteSource(del bool) Option {
	return func(r *Resolver) {
		r.deleteSource = del
	}
}

// NewResolver creates a resolver. Flow sends keep their sources, since an asset is replayed
// for every conversation.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DeletingSource returns a copy of r that removes sources after success.
func (r *Resolver) DeletingSource() *Resolver {
	c := *r
	c.deleteSource = true
	return &c
}

// Resolve reads the asset and builds its payload.
// It fails with *domain.MimeUnresolvedError or *domain.TranscodeFailure.
func (r *Resolver) Resolve(ctx context.Context, asset domain.MediaAsset) (domain.MessagePayload, error) {
	mimeType, err := DetectMIME(asset)
	if err != nil {
		return domain.MessagePayload{}, err
	}
	asset.MimeType = mimeType
	asset.Kind = Classify(mimeType)
	if asset.Name == "" {
		base := filepath.Base(asset.Path)
		asset.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	var payload domain.MessagePayload
	switch asset.Kind {
	case domain.MediaAudio:
		payload, err = r.resolveAudio(ctx, asset)
	case domain.MediaVideo:
		payload, err = r.resolveFile(asset, domain.PayloadVideo)
	case domain.MediaDocument:
		payload, err = r.resolveFile(asset, domain.PayloadDocument)
	default:
		payload, err = r.resolveFile(asset, domain.PayloadImage)
	}
	if err != nil {
		return domain.MessagePayload{}, err
	}

	if r.deleteSource {
		if err := os.Remove(asset.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove media source", "path", asset.Path, "err", err)
		}
	}
	return payload, nil
}

func (r *Resolver) resolveFile(asset domain.MediaAsset, kind domain.PayloadKind) (domain.MessagePayload, error) {
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		return domain.MessagePayload{}, fmt.Errorf("read media %s: %w", asset.Path, err)
	}
	return domain.MessagePayload{
		Kind:     kind,
		Data:     data,
		Caption:  asset.Caption,
		FileName: asset.Name,
		MimeType: asset.MimeType,
	}, nil
}

func (r *Resolver) resolveAudio(ctx context.Context, asset domain.MediaAsset) (domain.MessagePayload, error) {
	if r.transcoder == nil {
		return domain.MessagePayload{}, errors.New("no audio transcoder configured")
	}
	profile := SelectProfile(asset, asset.MimeType)

	out, err := r.transcoder.Transcode(ctx, asset.Path, profile)
	if err != nil {
		return domain.MessagePayload{}, err
	}
	defer func() {
		if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove transcoded audio", "path", out, "err", err)
		}
	}()

	data, err := os.ReadFile(out)
	if err != nil {
		return domain.MessagePayload{}, &domain.TranscodeFailure{Source: asset.Path, Profile: profile, Err: err}
	}

	payload := domain.MessagePayload{
		Kind:     domain.PayloadAudio,
		Data:     data,
		FileName: asset.Name,
		MimeType: asset.MimeType,
		Profile:  profile,
	}
	if profile == domain.ProfileVoiceNote {
		payload.MimeType = domain.VoiceNoteMimeType
		payload.PTT = true
	}
	return payload, nil
}
