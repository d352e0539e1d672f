// Package images holds the generation tools (flux_create, flux_edit,
// gpt_image, gemini_image, sora_video) and analyze_image. Generated
// bytes go to the paste store; only URLs enter the reasoning chain.
//
// The orchestrator checks the shared hourly quota before an image tool
// runs; the tools record a timestamp only after a successful generation
// so failures never burn quota.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nevindra/lolo"
)

// PollInterval paces async job polling.
const PollInterval = 2 * time.Second

// Quota is the slice of the shared sliding window the tools record into.
type Quota interface {
	Allow(level lolo.PermissionLevel) bool
	Record(level lolo.PermissionLevel)
}

// Uploader pushes generated bytes to the paste store.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// validDimensions checks width and height: positive, multiples of 16,
// bounded. Zero values mean the model default and pass.
func validDimensions(width, height int) error {
	for _, d := range []int{width, height} {
		if d == 0 {
			continue
		}
		if d < 16 || d > 2048 {
			return fmt.Errorf("dimension %d out of range 16..2048", d)
		}
		if d%16 != 0 {
			return fmt.Errorf("dimension %d is not a multiple of 16", d)
		}
	}
	return nil
}

// download pulls bytes with a size cap, for edit inputs and job results.
func download(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("content exceeds %d bytes", maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// callerLevel returns the caller's permission level, defaulting to
// normal when the identity is missing so quotas stay conservative.
func callerLevel(ctx context.Context) lolo.PermissionLevel {
	if c, ok := lolo.CallerFrom(ctx); ok {
		return c.Level
	}
	return lolo.PermNormal
}
