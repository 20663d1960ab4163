// Package segment assembles playable media segments: an initialization
// segment prepended to media data, decrypted first when DRM keys are in
// play.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Decrypter removes content protection from a media segment given its
// initialization segment and ClearKey material.
type Decrypter interface {
	Decrypt(ctx context.Context, init, media []byte, keyID, key string) ([]byte, error)
}

// Assembler produces the bytes served for a segment request.
type Assembler struct {
	Decrypter Decrypter
	Logger    *slog.Logger
}

// Assemble returns the playable segment. With both keyID and key present the
// media is decrypted through the Decrypter; otherwise the initialization
// segment is concatenated in front of the media data unchanged.
func (a *Assembler) Assemble(ctx context.Context, init, media []byte, mimeType, keyID, key string) ([]byte, error) {
	if keyID != "" && key != "" {
		if a.Decrypter == nil {
			return nil, fmt.Errorf("decryption requested but no decrypter configured")
		}

		start := time.Now()
		out, err := a.Decrypter.Decrypt(ctx, init, media, keyID, key)
		if err != nil {
			return nil, fmt.Errorf("decrypting segment: %w", err)
		}
		a.logger().Debug("decrypted segment",
			slog.String("mime_type", mimeType),
			slog.Int("bytes", len(out)),
			slog.Duration("took", time.Since(start)),
		)
		return out, nil
	}

	out := make([]byte, 0, len(init)+len(media))
	out = append(out, init...)
	out = append(out, media...)
	return out, nil
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
